package tranche

import (
	"errors"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNilEngine         = errors.New("tranche factory: engine not configured")
	ErrNilTokenFactory   = errors.New("tranche factory: token factory not configured")
	ErrInvalidOriginator = errors.New("tranche factory: originator not configured")
	ErrInvalidUnderlying = errors.New("tranche factory: underlying not configured")
	ErrInvalidInterval   = errors.New("tranche factory: distribution interval must be positive")
	ErrInvalidAllocation = errors.New("tranche factory: tranche allocations must sum to 100")
)

// TrancheConfig is the immutable per-tranche configuration supplied at vault
// creation.
type TrancheConfig struct {
	TargetAprBps  uint64
	AllocationPct uint64
}

// VaultConfig describes a new structured-credit deal. The nonce disambiguates
// multiple vaults sharing an originator and underlying.
type VaultConfig struct {
	Originator           [20]byte
	Underlying           string
	DistributionInterval int64
	Nonce                uint64
	Tranches             [NumTranches]TrancheConfig
}

// SyncFunc is the ledger mirror-synchronization callback handed to a position
// token at construction time.
type SyncFunc func(from, to [20]byte, amount *big.Int) error

// TokenFactory constructs the transferable position token for one tranche of a
// vault, bound to the ledger sync callback for that vault/tranche pair.
type TokenFactory func(vaultID [32]byte, id TrancheID, sync SyncFunc) (PositionToken, error)

// Factory validates vault configuration and instantiates ledgers together with
// their position tokens. The circular reference between the ledger and its
// tokens is resolved in two phases: the deterministic vault identifier is
// allocated first, the tokens are constructed against that handle, and only
// then is the vault record finalized and the tokens bound to the engine.
type Factory struct {
	engine   *Engine
	newToken TokenFactory
	nowFn    func() int64
}

// NewFactory wires a factory to an engine and a token constructor.
func NewFactory(engine *Engine, newToken TokenFactory) *Factory {
	return &Factory{
		engine:   engine,
		newToken: newToken,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the creation timestamp source. Intended for tests.
func (f *Factory) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// VaultID computes the deterministic identifier for a configuration before the
// vault exists, so dependents can be constructed against it.
func VaultID(cfg VaultConfig) [32]byte {
	underlying := strings.ToUpper(strings.TrimSpace(cfg.Underlying))
	nonce := make([]byte, 8)
	for i := 0; i < 8; i++ {
		nonce[7-i] = byte(cfg.Nonce >> (8 * i))
	}
	return ethcrypto.Keccak256Hash(cfg.Originator[:], []byte(underlying), nonce)
}

// ModuleAddressFor derives the vault's underlying custody account from its
// identifier.
func ModuleAddressFor(vaultID [32]byte) [20]byte {
	hash := ethcrypto.Keccak256(vaultID[:], []byte("vault-module"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// ValidateConfig enforces the creation-time invariants: a configured
// originator and underlying, a positive distribution interval, and three
// allocations summing to exactly 100 percent.
func ValidateConfig(cfg VaultConfig) error {
	if cfg.Originator == ([20]byte{}) {
		return ErrInvalidOriginator
	}
	if strings.TrimSpace(cfg.Underlying) == "" {
		return ErrInvalidUnderlying
	}
	if cfg.DistributionInterval <= 0 {
		return ErrInvalidInterval
	}
	var allocation uint64
	for i := range cfg.Tranches {
		if cfg.Tranches[i].AllocationPct > 100 {
			return ErrInvalidAllocation
		}
		allocation += cfg.Tranches[i].AllocationPct
	}
	if allocation != 100 {
		return ErrInvalidAllocation
	}
	return nil
}

// EnsureVault creates the vault when absent; when it already exists the
// configuration is revalidated and fresh position tokens are constructed and
// rebound so a restarted process can keep serving the vault.
func (f *Factory) EnsureVault(cfg VaultConfig) (*Vault, error) {
	vault, err := f.CreateVault(cfg)
	if err == nil {
		return vault, nil
	}
	if !errors.Is(err, ErrVaultExists) {
		return nil, err
	}
	vaultID := VaultID(cfg)
	tokens, err := f.buildTokens(vaultID)
	if err != nil {
		return nil, err
	}
	existing, err := f.engine.state.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrVaultNotFound
	}
	f.engine.BindTokens(vaultID, tokens)
	return existing.Clone(), nil
}

func (f *Factory) buildTokens(vaultID [32]byte) ([NumTranches]PositionToken, error) {
	var tokens [NumTranches]PositionToken
	for i := range tokens {
		id := TrancheID(i)
		sync := func(from, to [20]byte, amount *big.Int) error {
			return f.engine.OnShareTransfer(vaultID, id, from, to, amount)
		}
		tok, err := f.newToken(vaultID, id, sync)
		if err != nil {
			return tokens, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

// CreateVault validates the configuration, builds the position tokens against
// the pre-allocated vault identifier, persists the vault and binds the tokens
// to the engine. Creating a vault whose identifier already exists fails.
func (f *Factory) CreateVault(cfg VaultConfig) (*Vault, error) {
	if f == nil || f.engine == nil || f.engine.state == nil {
		return nil, ErrNilEngine
	}
	if f.newToken == nil {
		return nil, ErrNilTokenFactory
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	// Phase one: allocate the handle.
	vaultID := VaultID(cfg)
	existing, err := f.engine.state.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrVaultExists
	}

	// Phase two: construct the dependents against the handle. A token used
	// before finalization fails its sync callback with ErrVaultNotFound.
	tokens, err := f.buildTokens(vaultID)
	if err != nil {
		return nil, err
	}

	// Phase three: finalize the vault and bind the handle.
	now := f.nowFn()
	vault := &Vault{
		ID:                   vaultID,
		Originator:           cfg.Originator,
		Underlying:           strings.ToUpper(strings.TrimSpace(cfg.Underlying)),
		ModuleAddress:        ModuleAddressFor(vaultID),
		Status:               StatusActive,
		DistributionInterval: cfg.DistributionInterval,
		LastDistributionTime: now,
		CreatedAt:            now,
	}
	for i := range vault.Tranches {
		vault.Tranches[i].TargetAprBps = cfg.Tranches[i].TargetAprBps
		vault.Tranches[i].AllocationPct = cfg.Tranches[i].AllocationPct
	}
	vault.ensureDefaults()

	if err := f.engine.state.PutVault(vault); err != nil {
		return nil, err
	}
	f.engine.BindTokens(vaultID, tokens)
	f.engine.emit(NewVaultCreatedEvent(vault))
	return vault.Clone(), nil
}
