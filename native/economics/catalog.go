package economics

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultProtocolFeeBps applies to strategies without a catalog entry.
const DefaultProtocolFeeBps uint32 = 100

// CatalogEntry describes one built-in revenue strategy. The entries mirror
// the platform's on-chain strategy contracts.
type CatalogEntry struct {
	ID                    string       `json:"id" yaml:"id"`
	Name                  string       `json:"name" yaml:"name"`
	Description           string       `json:"description" yaml:"description"`
	Category              string       `json:"category" yaml:"category"`
	PaymentModel          PaymentModel `json:"paymentModel" yaml:"paymentModel"`
	MinPaymentWei         string       `json:"minPaymentWei" yaml:"minPaymentWei"`
	ProtocolFeeBps        uint32       `json:"protocolFeeBps" yaml:"protocolFeeBps"`
	SupportsFreeListening bool         `json:"supportsFreeListening" yaml:"supportsFreeListening"`
	SupportsTips          bool         `json:"supportsTips" yaml:"supportsTips"`
	SupportsSubscriptions bool         `json:"supportsSubscriptions" yaml:"supportsSubscriptions"`
}

// MinPayment parses the entry's minimum payment, zero when unset.
func (e CatalogEntry) MinPayment() *big.Int {
	if strings.TrimSpace(e.MinPaymentWei) == "" {
		return big.NewInt(0)
	}
	amount, err := ParseWei(e.MinPaymentWei)
	if err != nil {
		return big.NewInt(0)
	}
	return amount
}

// BuiltinCatalog returns the compiled-in strategy catalog. Minimum
// payments are denominated in wei of the settlement token.
func BuiltinCatalog() []CatalogEntry {
	return []CatalogEntry{
		{
			ID:             "pay-per-stream-v1",
			Name:           "Pay Per Stream",
			Description:    "Listeners pay per stream. Instant royalty distribution.",
			Category:       "direct-payment",
			PaymentModel:   ModelPayPerStream,
			MinPaymentWei:  "10000000000000000",
			ProtocolFeeBps: 100,
			SupportsTips:   true,
		},
		{
			ID:                    "gift-economy-v1",
			Name:                  "Gift Economy",
			Description:           "Free listening with CGC rewards. Optional tips to artist.",
			Category:              "community",
			PaymentModel:          ModelGiftEconomy,
			MinPaymentWei:         "0",
			ProtocolFeeBps:        100,
			SupportsFreeListening: true,
			SupportsTips:          true,
		},
		{
			ID:                    "subscription-v1",
			Name:                  "Subscription",
			Description:           "Monthly fee for unlimited listening.",
			Category:              "recurring",
			PaymentModel:          ModelSubscription,
			MinPaymentWei:         "5000000000000000000",
			ProtocolFeeBps:        200,
			SupportsTips:          true,
			SupportsSubscriptions: true,
		},
		{
			ID:                    "patronage-v1",
			Name:                  "Patronage",
			Description:           "Recurring support from dedicated fans.",
			Category:              "recurring",
			PaymentModel:          ModelPatronage,
			MinPaymentWei:         "1000000000000000000",
			ProtocolFeeBps:        100,
			SupportsFreeListening: true,
			SupportsSubscriptions: true,
		},
		{
			ID:                    "nft-gated-v1",
			Name:                  "NFT Gated",
			Description:           "Exclusive content for NFT holders.",
			Category:              "token-gated",
			PaymentModel:          ModelNFTGated,
			MinPaymentWei:         "0",
			ProtocolFeeBps:        250,
			SupportsFreeListening: true,
			SupportsTips:          true,
		},
		{
			ID:                    "pay-what-you-want-v1",
			Name:                  "Pay What You Want",
			Description:           "Listener chooses amount. No minimum.",
			Category:              "flexible",
			PaymentModel:          ModelPayWhatYouWant,
			MinPaymentWei:         "0",
			ProtocolFeeBps:        100,
			SupportsFreeListening: true,
			SupportsTips:          true,
		},
		{
			ID:             "auction-v1",
			Name:           "Auction",
			Description:    "Time-limited bidding for exclusive releases.",
			Category:       "auction",
			PaymentModel:   ModelAuction,
			MinPaymentWei:  "1000000000000000000",
			ProtocolFeeBps: 500,
		},
		{
			ID:                    "freemium-v1",
			Name:                  "Freemium",
			Description:           "Free tier with premium features.",
			Category:              "tiered",
			PaymentModel:          ModelFreemium,
			MinPaymentWei:         "0",
			ProtocolFeeBps:        150,
			SupportsFreeListening: true,
			SupportsTips:          true,
			SupportsSubscriptions: true,
		},
		{
			ID:             "time-barter-v1",
			Name:           "Time Barter (TEND)",
			Description:    "Exchange TEND tokens for access. No fiat required.",
			Category:       "alternative-currency",
			PaymentModel:   ModelTimeBarter,
			MinPaymentWei:  "0",
			ProtocolFeeBps: 0,
		},
		{
			ID:             "download-v1",
			Name:           "Pay Per Download",
			Description:    "One-time payment to own the file.",
			Category:       "direct-payment",
			PaymentModel:   ModelDownload,
			MinPaymentWei:  "990000000000000000",
			ProtocolFeeBps: 100,
		},
		{
			ID:                    "staking-gated-v1",
			Name:                  "Staking Gated",
			Description:           "Stake tokens to access content.",
			Category:              "token-gated",
			PaymentModel:          ModelStakingGated,
			MinPaymentWei:         "0",
			ProtocolFeeBps:        50,
			SupportsFreeListening: true,
			SupportsTips:          true,
		},
	}
}

// Catalog is an indexed strategy catalog.
type Catalog struct {
	entries []CatalogEntry
	byID    map[string]CatalogEntry
}

// NewCatalog indexes the supplied entries.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	catalog := &Catalog{
		entries: make([]CatalogEntry, 0, len(entries)),
		byID:    make(map[string]CatalogEntry, len(entries)),
	}
	for i, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("economics: catalog entry %d has an empty id", i)
		}
		if _, ok := catalog.byID[id]; ok {
			return nil, fmt.Errorf("economics: duplicate catalog id %q", id)
		}
		if !entry.PaymentModel.Valid() {
			return nil, fmt.Errorf("economics: catalog entry %q has unknown payment model %q", id, entry.PaymentModel)
		}
		if entry.ProtocolFeeBps > MaxFeeBps {
			return nil, fmt.Errorf("economics: catalog entry %q fee exceeds %d bps", id, MaxFeeBps)
		}
		if entry.MinPaymentWei != "" {
			if _, err := ParseWei(entry.MinPaymentWei); err != nil {
				return nil, fmt.Errorf("economics: catalog entry %q: %w", id, err)
			}
		}
		entry.ID = id
		catalog.entries = append(catalog.entries, entry)
		catalog.byID[id] = entry
	}
	return catalog, nil
}

// LoadCatalog reads a YAML seed file of catalog entries. An empty path or
// a missing file yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(BuiltinCatalog())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCatalog(BuiltinCatalog())
		}
		return nil, fmt.Errorf("economics: read catalog seed: %w", err)
	}
	var seed struct {
		Strategies []CatalogEntry `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("economics: parse catalog seed: %w", err)
	}
	if len(seed.Strategies) == 0 {
		return NewCatalog(BuiltinCatalog())
	}
	return NewCatalog(seed.Strategies)
}

// Entries returns the catalog entries in declaration order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds a catalog entry by id.
func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	entry, ok := c.byID[strings.TrimSpace(id)]
	return entry, ok
}

// FeeBps returns the protocol fee for a strategy id, falling back to the
// platform default for unknown ids.
func (c *Catalog) FeeBps(id string) uint32 {
	if entry, ok := c.Lookup(id); ok {
		return entry.ProtocolFeeBps
	}
	return DefaultProtocolFeeBps
}

// DefaultSplits is the split set applied when a song has no stored
// strategy configuration: the full amount to the artist.
func DefaultSplits() []Split {
	return []Split{{Role: "artist", Pct: SplitPercentTotal}}
}
