package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/uhyunpark/dutchmarket/pkg/app/core"
	"github.com/uhyunpark/dutchmarket/pkg/app/core/phase"
	"github.com/uhyunpark/dutchmarket/pkg/token"
)

var (
	custody = common.HexToAddress("0xC0")
	alice   = common.HexToAddress("0xA1")
	bob     = common.HexToAddress("0xB0")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

type registry map[common.Address]Token

func (r registry) Lookup(addr common.Address) (Token, bool) {
	t, ok := r[addr]
	return t, ok
}

// failingToken wraps a token and fails the next call when armed.
type failingToken struct {
	Token
	failTransfer bool
}

func (f *failingToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	if f.failTransfer {
		return errors.New("token paused")
	}
	return f.Token.Transfer(from, to, amount)
}

// tb is the subset of testing.TB that rapid.T also provides.
type tb interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

type fixture struct {
	pc     *phase.Controller
	ledger *Ledger
	bank   *token.ERC20
	tok    *token.ERC20
	fail   *failingToken
}

func newFixture(t tb) *fixture {
	pc := phase.NewController()
	bank := token.NewBank()
	tok := token.NewERC20(common.HexToAddress("0x70"), "TKN")
	fail := &failingToken{Token: tok}
	l := NewLedger(pc, registry{tok.Address(): fail}, bank, custody, nil)
	for _, acc := range []common.Address{alice, bob} {
		if err := tok.Mint(acc, u(1_000_000)); err != nil {
			t.Fatal(err)
		}
		tok.Approve(acc, custody, token.MaxAllowance)
	}
	return &fixture{pc: pc, ledger: l, bank: bank, tok: tok, fail: fail}
}

// depositNative mimics the environment: value moves into custody, then the
// ledger credits it.
func (f *fixture) depositNative(t tb, acc common.Address, n uint64) {
	t.Helper()
	if err := f.bank.Mint(custody, u(n)); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.DepositNative(acc, u(n)); err != nil {
		t.Fatalf("DepositNative(%d): %v", n, err)
	}
}

func TestNativeDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	f.depositNative(t, alice, 1)
	if got := f.ledger.Balance(alice, core.NativeAsset).Uint64(); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
	if err := f.ledger.WithdrawNative(alice, u(1)); err != nil {
		t.Fatalf("WithdrawNative: %v", err)
	}
	if got := f.ledger.Balance(alice, core.NativeAsset).Uint64(); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if got := f.bank.BalanceOf(alice).Uint64(); got != 1 {
		t.Errorf("paid out = %d, want 1", got)
	}
}

func TestTokenDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.DepositToken(alice, f.tok.Address(), u(1000)); err != nil {
		t.Fatalf("DepositToken: %v", err)
	}
	if got := f.tok.BalanceOf(custody).Uint64(); got != 1000 {
		t.Errorf("custody holds %d, want 1000", got)
	}
	if err := f.ledger.WithdrawToken(alice, f.tok.Address(), u(1000)); err != nil {
		t.Fatalf("WithdrawToken: %v", err)
	}
	if got := f.ledger.Balance(alice, core.TokenAsset(f.tok.Address())).Uint64(); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if got := f.tok.BalanceOf(alice).Uint64(); got != 1_000_000 {
		t.Errorf("wallet = %d, want 1000000", got)
	}
}

func TestLedgerErrors(t *testing.T) {
	f := newFixture(t)
	f.depositNative(t, alice, 10)
	tokAddr := f.tok.Address()

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"overdraw native", func() error { return f.ledger.WithdrawNative(alice, u(11)) }, core.ErrInsufficientBalance},
		{"overdraw token", func() error { return f.ledger.WithdrawToken(alice, tokAddr, u(1)) }, core.ErrInsufficientBalance},
		{"zero deposit", func() error { return f.ledger.DepositNative(alice, u(0)) }, core.ErrInvalidAmount},
		{"zero token withdraw", func() error { return f.ledger.WithdrawToken(alice, tokAddr, u(0)) }, core.ErrInvalidAmount},
		{"unknown token", func() error { return f.ledger.DepositToken(alice, common.HexToAddress("0x99"), u(1)) }, core.ErrUnknownToken},
		{"no allowance", func() error {
			f.tok.Approve(bob, custody, u(5))
			return f.ledger.DepositToken(bob, tokAddr, u(6))
		}, core.ErrTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if got := f.ledger.Balance(alice, core.NativeAsset).Uint64(); got != 10 {
		t.Errorf("balance changed by rejected ops: %d", got)
	}
}

func TestWrongPhase(t *testing.T) {
	f := newFixture(t)
	f.depositNative(t, alice, 5)
	_ = f.pc.Set(phase.Offer)

	ops := map[string]func() error{
		"depositNative":  func() error { return f.ledger.DepositNative(alice, u(1)) },
		"withdrawNative": func() error { return f.ledger.WithdrawNative(alice, u(1)) },
		"depositToken":   func() error { return f.ledger.DepositToken(alice, f.tok.Address(), u(1)) },
		"withdrawToken":  func() error { return f.ledger.WithdrawToken(alice, f.tok.Address(), u(1)) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, core.ErrWrongPhase) {
			t.Errorf("%s: err = %v, want ErrWrongPhase", name, err)
		}
	}
	if got := f.ledger.Balance(alice, core.NativeAsset).Uint64(); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
}

func TestFailedTransferRestoresBalance(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.DepositToken(alice, f.tok.Address(), u(100)); err != nil {
		t.Fatal(err)
	}
	f.fail.failTransfer = true

	err := f.ledger.WithdrawToken(alice, f.tok.Address(), u(60))
	if !errors.Is(err, core.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.ledger.Balance(alice, core.TokenAsset(f.tok.Address())).Uint64(); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
	if err := f.ledger.CheckCustody(); err != nil {
		t.Error(err)
	}

	// Native payout fails when custody does not actually hold the funds.
	if err := f.ledger.DepositNative(bob, u(7)); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.WithdrawNative(bob, u(7)); !errors.Is(err, core.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.ledger.Balance(bob, core.NativeAsset).Uint64(); got != 7 {
		t.Errorf("balance = %d, want 7", got)
	}
}

func TestSettle(t *testing.T) {
	f := newFixture(t)
	tokAddr := f.tok.Address()
	f.depositNative(t, alice, 50)
	if err := f.ledger.DepositToken(bob, tokAddr, u(20)); err != nil {
		t.Fatal(err)
	}

	s := Settlement{Buyer: alice, Seller: bob, Token: tokAddr, Quantity: u(10), Cost: u(30)}
	if err := f.ledger.Settle(s); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	want := map[string]uint64{
		"alice native": 20, "alice token": 10,
		"bob native": 30, "bob token": 10,
	}
	got := map[string]uint64{
		"alice native": f.ledger.Balance(alice, core.NativeAsset).Uint64(),
		"alice token":  f.ledger.Balance(alice, core.TokenAsset(tokAddr)).Uint64(),
		"bob native":   f.ledger.Balance(bob, core.NativeAsset).Uint64(),
		"bob token":    f.ledger.Balance(bob, core.TokenAsset(tokAddr)).Uint64(),
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s = %d, want %d", k, got[k], w)
		}
	}

	// Buyer short: nothing moves.
	before := f.ledger.Entries()
	err := f.ledger.Settle(Settlement{Buyer: alice, Seller: bob, Token: tokAddr, Quantity: u(1), Cost: u(21)})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// Seller short: nothing moves.
	err = f.ledger.Settle(Settlement{Buyer: alice, Seller: bob, Token: tokAddr, Quantity: u(11), Cost: u(1)})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	after := f.ledger.Entries()
	if len(before) != len(after) {
		t.Fatalf("entries changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].Amount.Eq(after[i].Amount) {
			t.Errorf("entry %d changed: %s -> %s", i, before[i].Amount, after[i].Amount)
		}
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	f.depositNative(t, alice, 9)
	_ = f.ledger.DepositToken(bob, f.tok.Address(), u(4))

	other := NewLedger(phase.NewController(), registry{}, f.bank, custody, nil)
	other.Restore(f.ledger.Entries())
	if other.Balance(alice, core.NativeAsset).Uint64() != 9 {
		t.Error("native balance not restored")
	}
	if other.Total(core.TokenAsset(f.tok.Address())).Uint64() != 4 {
		t.Error("token total not restored")
	}
	if err := other.CheckCustody(); err != nil {
		t.Error(err)
	}
}

func TestDepositAdditivity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		d1 := rapid.Uint64Range(1, 1<<62).Draw(rt, "d1")
		d2 := rapid.Uint64Range(1, 1<<62).Draw(rt, "d2")
		f.depositNative(rt, alice, d1)
		f.depositNative(rt, alice, d2)
		got := f.ledger.Balance(alice, core.NativeAsset)
		if want := new(uint256.Int).Add(u(d1), u(d2)); !got.Eq(want) {
			rt.Fatalf("balance = %s, want %s", got, want)
		}
	})
}

func TestWithdrawDepositRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		tokAddr := f.tok.Address()
		start := rapid.Uint64Range(1, 1_000_000).Draw(rt, "start")
		if err := f.ledger.DepositToken(alice, tokAddr, u(start)); err != nil {
			rt.Fatal(err)
		}
		amt := rapid.Uint64Range(1, start).Draw(rt, "amount")
		before := f.ledger.Balance(alice, core.TokenAsset(tokAddr))
		if err := f.ledger.WithdrawToken(alice, tokAddr, u(amt)); err != nil {
			rt.Fatal(err)
		}
		if err := f.ledger.DepositToken(alice, tokAddr, u(amt)); err != nil {
			rt.Fatal(err)
		}
		if after := f.ledger.Balance(alice, core.TokenAsset(tokAddr)); !after.Eq(before) {
			rt.Fatalf("balance %s -> %s", before, after)
		}
		if err := f.ledger.CheckCustody(); err != nil {
			rt.Fatal(err)
		}
	})
}
