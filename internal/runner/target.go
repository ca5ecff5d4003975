package runner

import (
	"github.com/rainlanguage/rain.orderbook-sub007/internal/config"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Target is one resolved (chain, orderbook) sync unit.
type Target struct {
	OrderbookKey string
	NetworkKey   string
	ManifestURL  string
	RPCs         []string
	Inputs       model.SyncInputs
}

// ID returns the identity every row and status update of the target carries.
func (t Target) ID() model.OrderbookIdentifier {
	return t.Inputs.Target
}

// BuildTargets resolves the selected orderbooks of settings into targets,
// ordered by orderbook key.
func BuildTargets(settings config.Settings) ([]Target, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	targets := make([]Target, 0, len(settings.Orderbooks))
	for _, key := range settings.OrderbookKeys() {
		orderbook := settings.Orderbooks[key]
		network := settings.Networks[orderbook.Network]
		address, err := config.ParseAddress(orderbook.Address)
		if err != nil {
			return nil, syncerr.Config("orderbook "+key, err)
		}
		cfg, err := settings.SyncConfig(orderbook)
		if err != nil {
			return nil, err
		}

		id := model.NewOrderbookIdentifier(network.ChainID, address)
		if other, ok := seen[id.Key()]; ok {
			return nil, syncerr.Configf("orderbooks %s and %s point at the same target %s", other, key, id)
		}
		seen[id.Key()] = key

		targets = append(targets, Target{
			OrderbookKey: key,
			NetworkKey:   orderbook.Network,
			ManifestURL:  network.ManifestURL,
			RPCs:         network.RPCs,
			Inputs: model.SyncInputs{
				Target:       id,
				MetadataRPCs: network.MetadataRPCs,
				Config:       cfg,
			},
		})
	}
	return targets, nil
}
