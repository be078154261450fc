package vaultstate

import (
	"math/big"
	"path/filepath"
	"testing"

	"strata/core/types"
	"strata/native/tranche"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "strata.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testVault() *tranche.Vault {
	v := &tranche.Vault{
		Underlying:           "USDC",
		Status:               tranche.StatusActive,
		DistributionInterval: 86_400,
		LastDistributionTime: 1_000_000,
		CreatedAt:            1_000_000,
	}
	v.ID[0] = 0xaa
	v.Originator[19] = 0x01
	v.ModuleAddress[19] = 0x02
	v.TotalPoolDeposited = big.NewInt(1_000_000)
	v.TotalYieldReceived = big.NewInt(50_000)
	v.TotalYieldDistributed = big.NewInt(50_000)
	v.TotalYieldClaimed = big.NewInt(35_000)
	v.Tranches[tranche.TrancheSenior] = tranche.Tranche{
		TargetAprBps:      500,
		AllocationPct:     70,
		TotalShares:       big.NewInt(700_000),
		TotalDepositValue: big.NewInt(700_000),
		YieldPerShare:     big.NewInt(50_000_000_000_000_000),
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	store := openTestStore(t)
	want := testVault()
	if err := store.PutVault(want); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	got, err := store.GetVault(want.ID)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if got == nil {
		t.Fatal("vault not found after put")
	}
	if got.Underlying != want.Underlying || got.Status != want.Status {
		t.Fatalf("vault header mismatch: %+v", got)
	}
	if got.TotalPoolDeposited.Cmp(want.TotalPoolDeposited) != 0 {
		t.Fatalf("deposited mismatch: %s", got.TotalPoolDeposited)
	}
	senior := got.Tranches[tranche.TrancheSenior]
	if senior.TargetAprBps != 500 || senior.YieldPerShare.Cmp(big.NewInt(50_000_000_000_000_000)) != 0 {
		t.Fatalf("tranche mismatch: %+v", senior)
	}
}

func TestGetVaultAbsentReturnsNil(t *testing.T) {
	store := openTestStore(t)
	var id [32]byte
	id[0] = 0xff
	got, err := store.GetVault(id)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent vault, got %+v", got)
	}
}

func TestPositionRoundTripAndKeying(t *testing.T) {
	store := openTestStore(t)
	pos := &tranche.Position{
		Tranche:         tranche.TrancheMezzanine,
		Shares:          big.NewInt(200_000),
		YieldCheckpoint: big.NewInt(123),
		PendingYield:    big.NewInt(456),
	}
	pos.VaultID[0] = 0xaa
	pos.Owner[19] = 0x0b
	if err := store.PutPosition(pos); err != nil {
		t.Fatalf("put position: %v", err)
	}

	got, err := store.GetPosition(pos.VaultID, pos.Tranche, pos.Owner)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got == nil || got.Shares.Cmp(big.NewInt(200_000)) != 0 || got.PendingYield.Cmp(big.NewInt(456)) != 0 {
		t.Fatalf("position mismatch: %+v", got)
	}

	// Same vault and owner, different tranche, must be a distinct record.
	other, err := store.GetPosition(pos.VaultID, tranche.TrancheSenior, pos.Owner)
	if err != nil {
		t.Fatalf("get sibling position: %v", err)
	}
	if other != nil {
		t.Fatalf("tranche not part of the position key: %+v", other)
	}
}

func TestAccountRoundTripAndCredit(t *testing.T) {
	store := openTestStore(t)
	var addr [20]byte
	addr[19] = 0x0a

	got, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent account, got %+v", got)
	}

	if err := store.PutAccount(addr, &types.Account{Balance: big.NewInt(100)}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	if err := store.Credit(addr, big.NewInt(400)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, err = store.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got == nil || got.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance after credit: %+v", got)
	}

	if err := store.Credit(addr, big.NewInt(0)); err == nil {
		t.Fatal("expected zero credit to be rejected")
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.db")

	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	want := testVault()
	if err := store.PutVault(want); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetVault(want.ID)
	if err != nil {
		t.Fatalf("get vault after reopen: %v", err)
	}
	if got == nil || got.TotalPoolDeposited.Cmp(want.TotalPoolDeposited) != 0 {
		t.Fatalf("vault lost across reopen: %+v", got)
	}
}
