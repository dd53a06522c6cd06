package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice   = common.HexToAddress("0xA1")
	bob     = common.HexToAddress("0xB0")
	spender = common.HexToAddress("0x5E")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func TestTransfer(t *testing.T) {
	tok := NewERC20(common.HexToAddress("0x70"), "TKN")
	if err := tok.Mint(alice, u(100)); err != nil {
		t.Fatal(err)
	}
	if err := tok.Transfer(alice, bob, u(40)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 60 {
		t.Errorf("alice = %d, want 60", got)
	}
	if got := tok.BalanceOf(bob).Uint64(); got != 40 {
		t.Errorf("bob = %d, want 40", got)
	}

	err := tok.Transfer(bob, alice, u(41))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw err = %v, want ErrInsufficientFunds", err)
	}
	if err := tok.Transfer(alice, common.Address{}, u(1)); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("zero address err = %v", err)
	}
	if tok.TotalSupply().Uint64() != 100 {
		t.Errorf("supply = %s, want 100", tok.TotalSupply())
	}
}

func TestTransferFrom(t *testing.T) {
	tok := NewERC20(common.HexToAddress("0x70"), "TKN")
	_ = tok.Mint(alice, u(100))

	if err := tok.TransferFrom(spender, alice, bob, u(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("no allowance err = %v", err)
	}

	tok.Approve(alice, spender, u(50))
	if err := tok.TransferFrom(spender, alice, bob, u(30)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := tok.Allowance(alice, spender).Uint64(); got != 20 {
		t.Errorf("allowance = %d, want 20", got)
	}

	// Balance short: allowance must not be consumed.
	tok.Approve(alice, spender, u(1000))
	if err := tok.TransferFrom(spender, alice, bob, u(71)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := tok.Allowance(alice, spender).Uint64(); got != 1000 {
		t.Errorf("allowance after failed transfer = %d, want 1000", got)
	}
}

func TestMaxAllowanceNotDecremented(t *testing.T) {
	tok := NewERC20(common.HexToAddress("0x70"), "TKN")
	_ = tok.Mint(alice, u(10))
	tok.Approve(alice, spender, MaxAllowance)
	if err := tok.TransferFrom(spender, alice, bob, u(10)); err != nil {
		t.Fatal(err)
	}
	if !tok.Allowance(alice, spender).Eq(MaxAllowance) {
		t.Error("max allowance was decremented")
	}
}

func TestExportImport(t *testing.T) {
	tok := NewERC20(common.HexToAddress("0x70"), "TKN")
	_ = tok.Mint(alice, u(10))
	_ = tok.Mint(bob, u(5))
	tok.Approve(alice, spender, u(3))

	back := Import(tok.Export())
	if back.BalanceOf(alice).Uint64() != 10 || back.BalanceOf(bob).Uint64() != 5 {
		t.Error("balances not restored")
	}
	if back.Allowance(alice, spender).Uint64() != 3 {
		t.Error("allowance not restored")
	}
	if back.TotalSupply().Uint64() != 15 {
		t.Errorf("supply = %s, want 15", back.TotalSupply())
	}
}

func TestRegistryDeploy(t *testing.T) {
	r := NewRegistry()
	a, err := r.Deploy("AAA")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Deploy("BBB")
	if a.Address() == b.Address() {
		t.Fatal("deployed tokens share an address")
	}
	if got, ok := r.Get(b.Address()); !ok || got != b {
		t.Error("Get did not return deployed token")
	}
	if _, err := r.Deploy(" "); err == nil {
		t.Error("Deploy with blank symbol succeeded")
	}
	if r.Nonce() != 2 {
		t.Errorf("Nonce = %d, want 2", r.Nonce())
	}
	if all := r.All(); len(all) != 2 || all[0].Symbol() != "AAA" {
		t.Errorf("All = %v", all)
	}
}

func TestLoadReplacesState(t *testing.T) {
	bank := NewBank()
	_ = bank.Mint(alice, u(10))
	snap := bank.Export()

	if err := bank.Transfer(alice, bob, u(4)); err != nil {
		t.Fatal(err)
	}
	bank.Approve(bob, spender, u(1))

	bank.Load(snap)
	if bank.BalanceOf(alice).Uint64() != 10 || !bank.BalanceOf(bob).IsZero() {
		t.Error("balances not reset")
	}
	if !bank.Allowance(bob, spender).IsZero() {
		t.Error("allowance survived Load")
	}
	if bank.Symbol() != NativeSymbol || bank.Address() != (common.Address{}) {
		t.Errorf("bank identity = %s %s", bank.Symbol(), bank.Address())
	}
}
