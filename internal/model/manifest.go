package model

import "strings"

// ManifestOrderbook points at a pre-built dump for one orderbook.
type ManifestOrderbook struct {
	Address        string `yaml:"address" json:"address"`
	DumpURL        string `yaml:"dump_url" json:"dump_url"`
	EndBlock       uint64 `yaml:"end_block" json:"end_block"`
	EndBlockHash   string `yaml:"end_block_hash" json:"end_block_hash"`
	EndBlockTimeMs uint64 `yaml:"end_block_time_ms" json:"end_block_time_ms"`
}

// ManifestNetwork lists the dumps available on one chain.
type ManifestNetwork struct {
	ChainID    uint64              `yaml:"chain_id" json:"chain_id"`
	Orderbooks []ManifestOrderbook `yaml:"orderbooks" json:"orderbooks"`
}

// Manifest is the remotely hosted bootstrap index.
type Manifest struct {
	ManifestVersion uint32                     `yaml:"manifest_version" json:"manifest_version"`
	DBSchemaVersion uint32                     `yaml:"db_schema_version" json:"db_schema_version"`
	Networks        map[string]ManifestNetwork `yaml:"networks" json:"networks"`
}

// Find returns the dump entry for (chainID, address).
func (m *Manifest) Find(chainID uint64, address string) (ManifestOrderbook, bool) {
	if m == nil {
		return ManifestOrderbook{}, false
	}
	address = strings.ToLower(address)
	for _, network := range m.Networks {
		if network.ChainID != chainID {
			continue
		}
		for _, ob := range network.Orderbooks {
			if strings.ToLower(ob.Address) == address {
				return ob, true
			}
		}
	}
	return ManifestOrderbook{}, false
}
