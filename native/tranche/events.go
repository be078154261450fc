package tranche

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"strata/core/types"
)

const (
	EventTypeInvested      = "tranche.invested"
	EventTypeWithdrawn     = "tranche.withdrawn"
	EventTypeYieldClaimed  = "tranche.yield_claimed"
	EventTypeYieldReceived = "tranche.yield_received"
	EventTypeDistributed   = "tranche.distributed"
	EventTypeStatusChanged = "tranche.status_changed"
	EventTypeVaultCreated  = "tranche.vault_created"
)

// NewInvestedEvent returns the canonical payload emitted when shares are
// minted for a beneficiary.
func NewInvestedEvent(v *Vault, id TrancheID, beneficiary [20]byte, amount *big.Int) *types.Event {
	attrs := vaultAttrs(v)
	attrs["tranche"] = id.String()
	attrs["beneficiary"] = hex.EncodeToString(beneficiary[:])
	attrs["amount"] = bigIntAttr(amount)
	return &types.Event{Type: EventTypeInvested, Attributes: attrs}
}

// NewWithdrawnEvent returns the canonical payload emitted when an investor
// exits part of their position.
func NewWithdrawnEvent(v *Vault, id TrancheID, investor [20]byte, amount *big.Int) *types.Event {
	attrs := vaultAttrs(v)
	attrs["tranche"] = id.String()
	attrs["investor"] = hex.EncodeToString(investor[:])
	attrs["amount"] = bigIntAttr(amount)
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewYieldClaimedEvent returns the canonical payload emitted when settled
// yield is paid out.
func NewYieldClaimedEvent(v *Vault, id TrancheID, investor [20]byte, amount *big.Int) *types.Event {
	attrs := vaultAttrs(v)
	attrs["tranche"] = id.String()
	attrs["investor"] = hex.EncodeToString(investor[:])
	attrs["amount"] = bigIntAttr(amount)
	return &types.Event{Type: EventTypeYieldClaimed, Attributes: attrs}
}

// NewYieldReceivedEvent returns the canonical payload emitted when yield is
// paid into the vault.
func NewYieldReceivedEvent(v *Vault, from [20]byte, amount *big.Int) *types.Event {
	attrs := vaultAttrs(v)
	attrs["from"] = hex.EncodeToString(from[:])
	attrs["amount"] = bigIntAttr(amount)
	return &types.Event{Type: EventTypeYieldReceived, Attributes: attrs}
}

// NewDistributedEvent returns the canonical payload emitted after a waterfall
// run, carrying the per-tranche amounts credited to the accumulators.
func NewDistributedEvent(v *Vault, amounts [NumTranches]*big.Int, periodBps uint64) *types.Event {
	attrs := vaultAttrs(v)
	for i := range amounts {
		attrs[TrancheID(i).String()] = bigIntAttr(amounts[i])
	}
	attrs["periodBps"] = strconv.FormatUint(periodBps, 10)
	return &types.Event{Type: EventTypeDistributed, Attributes: attrs}
}

// NewStatusChangedEvent returns the canonical payload emitted when the
// originator advances the pool status.
func NewStatusChangedEvent(v *Vault, previous PoolStatus) *types.Event {
	attrs := vaultAttrs(v)
	attrs["previous"] = previous.String()
	return &types.Event{Type: EventTypeStatusChanged, Attributes: attrs}
}

// NewVaultCreatedEvent returns the canonical payload emitted when the factory
// finalizes a vault.
func NewVaultCreatedEvent(v *Vault) *types.Event {
	attrs := vaultAttrs(v)
	if v != nil {
		attrs["interval"] = strconv.FormatInt(v.DistributionInterval, 10)
		for i := range v.Tranches {
			attrs[TrancheID(i).String()+"Apr"] = strconv.FormatUint(v.Tranches[i].TargetAprBps, 10)
		}
	}
	return &types.Event{Type: EventTypeVaultCreated, Attributes: attrs}
}

func vaultAttrs(v *Vault) map[string]string {
	attrs := make(map[string]string)
	if v == nil {
		return attrs
	}
	attrs["vault"] = hex.EncodeToString(v.ID[:])
	attrs["underlying"] = v.Underlying
	attrs["status"] = v.Status.String()
	return attrs
}

func bigIntAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
