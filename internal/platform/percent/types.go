package percent

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// APIAsset is a token reference as returned by the market API.
type APIAsset struct {
	Token    string `json:"token"`
	Decimals int32  `json:"decimals"`
}

// APILeg is one conditional leg.
type APILeg struct {
	Index int      `json:"index"`
	Label string   `json:"label"`
	Pool  string   `json:"pool"`
	Base  APIAsset `json:"base"`
	Quote APIAsset `json:"quote"`
	State string   `json:"state"`
}

// APIMarket is the market configuration document.
type APIMarket struct {
	ID          string   `json:"id"`
	Proposal    string   `json:"proposal"`
	SpotPool    string   `json:"spotPool"`
	Vault       string   `json:"vault"`
	Base        APIAsset `json:"base"`
	Quote       APIAsset `json:"quote"`
	Legs        []APILeg `json:"legs"`
	CreatedAt   string   `json:"createdAt"`
	FinalizesAt string   `json:"finalizesAt"`
}

// APITWAP is the time-weighted price summary for a market.
type APITWAP struct {
	Observations []struct {
		Leg   int    `json:"leg"`
		Price string `json:"price"`
	} `json:"observations"`
}

func (a APIAsset) toDomain(field string) (domain.Asset, error) {
	if a.Token != "" && !common.IsHexAddress(a.Token) {
		return domain.Asset{}, fmt.Errorf("%s: invalid token address %q", field, a.Token)
	}
	return domain.Asset{Token: common.HexToAddress(a.Token), Decimals: a.Decimals}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ToDomain converts the API document. An absent spot pool is left zero so
// MarketConfiguration.Validate can report it.
func (m APIMarket) ToDomain() (domain.MarketConfiguration, error) {
	out := domain.MarketConfiguration{
		ID:          m.ID,
		Proposal:    m.Proposal,
		CreatedAt:   parseTime(m.CreatedAt),
		FinalizesAt: parseTime(m.FinalizesAt),
	}
	var err error
	if out.SpotPool, err = parseAddress("spotPool", m.SpotPool); err != nil {
		return out, err
	}
	if out.Vault, err = parseAddress("vault", m.Vault); err != nil {
		return out, err
	}
	if out.Base, err = m.Base.toDomain("base"); err != nil {
		return out, err
	}
	if out.Quote, err = m.Quote.toDomain("quote"); err != nil {
		return out, err
	}

	out.Legs = make([]domain.ConditionalLeg, 0, len(m.Legs))
	for i, l := range m.Legs {
		leg := domain.ConditionalLeg{
			Index: l.Index,
			Label: l.Label,
			State: domain.ParseTradingState(l.State),
		}
		if leg.Pool, err = parseAddress(fmt.Sprintf("legs[%d].pool", i), l.Pool); err != nil {
			return out, err
		}
		if leg.Base, err = l.Base.toDomain(fmt.Sprintf("legs[%d].base", i)); err != nil {
			return out, err
		}
		if leg.Quote, err = l.Quote.toDomain(fmt.Sprintf("legs[%d].quote", i)); err != nil {
			return out, err
		}
		out.Legs = append(out.Legs, leg)
	}
	return out, nil
}

// ToDomain converts the TWAP document, skipping unparsable prices.
func (t APITWAP) ToDomain() []domain.TWAPObservation {
	out := make([]domain.TWAPObservation, 0, len(t.Observations))
	for _, o := range t.Observations {
		p, err := decimal.NewFromString(o.Price)
		if err != nil {
			continue
		}
		out = append(out, domain.TWAPObservation{Leg: o.Leg, Price: p})
	}
	return out
}
