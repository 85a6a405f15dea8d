package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/barfeed/internal/api"
	"github.com/rickgao/barfeed/internal/model"
)

// PriceView selects one quote view for all four OHLC fields.
type PriceView string

const (
	Bid        PriceView = "bid"
	Ask        PriceView = "ask"
	LastTraded PriceView = "last"
)

// VolumeField selects where Bar.Volume comes from.
type VolumeField string

const (
	LastTradedVolume VolumeField = "lastTradedVolume"
	NoVolume         VolumeField = "none"
)

// Mapping is the fixed rule turning a multi-view provider snapshot into a
// canonical bar. Fields are never filled from a view other than the one
// selected here.
type Mapping struct {
	Prices PriceView
	Volume VolumeField
}

// DefaultMapping takes OHLC from the bid view and volume from lastTradedVolume.
func DefaultMapping() Mapping {
	return Mapping{Prices: Bid, Volume: LastTradedVolume}
}

// ParseMapping builds a Mapping from config strings. Empty values take defaults.
func ParseMapping(prices, volume string) (Mapping, error) {
	m := DefaultMapping()
	switch strings.ToLower(strings.TrimSpace(prices)) {
	case "":
	case "bid":
		m.Prices = Bid
	case "ask", "offer":
		m.Prices = Ask
	case "last", "lasttraded":
		m.Prices = LastTraded
	default:
		return Mapping{}, fmt.Errorf("unknown price view %q", prices)
	}
	switch strings.TrimSpace(volume) {
	case "", "lastTradedVolume":
		m.Volume = LastTradedVolume
	case "none":
		m.Volume = NoVolume
	default:
		return Mapping{}, fmt.Errorf("unknown volume field %q", volume)
	}
	return m, nil
}

// ErrMissingView marks a snapshot that lacks the selected view.
var ErrMissingView = errors.New("selected price view missing")

// Apply converts one snapshot.
func (m Mapping) Apply(snap api.PriceSnapshot) (model.Bar, error) {
	ts, err := snap.Timestamp()
	if err != nil {
		return model.Bar{}, err
	}

	var ohlc [4]float64
	for i, p := range []api.Price{snap.OpenPrice, snap.HighPrice, snap.LowPrice, snap.ClosePrice} {
		v := m.pick(p)
		if v == nil {
			return model.Bar{}, fmt.Errorf("%w: %s at %s", ErrMissingView, m.Prices, snap.SnapshotTimeUTC)
		}
		ohlc[i] = *v
	}

	b := model.Bar{
		Timestamp: ts,
		Open:      ohlc[0],
		High:      ohlc[1],
		Low:       ohlc[2],
		Close:     ohlc[3],
	}
	if m.Volume == LastTradedVolume && snap.LastTradedVolume != nil {
		b.Volume = *snap.LastTradedVolume
	}
	if err := b.Validate(); err != nil {
		return model.Bar{}, err
	}
	return b, nil
}

func (m Mapping) pick(p api.Price) *float64 {
	switch m.Prices {
	case Ask:
		return p.Ask
	case LastTraded:
		return p.LastTraded
	default:
		return p.Bid
	}
}
