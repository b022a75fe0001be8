package asset

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000cc1")
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	tok := NewMemToken("USDX")
	tok.Mint(alice, big.NewInt(1000))

	if err := tok.Transfer(ctx, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := tok.BalanceOf(ctx, alice)
	b, _ := tok.BalanceOf(ctx, bob)
	if a.Int64() != 600 || b.Int64() != 400 {
		t.Errorf("balances alice=%s bob=%s, want 600/400", a, b)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemToken("USDX")
	tok.Mint(alice, big.NewInt(100))

	err := tok.Transfer(ctx, alice, bob, big.NewInt(101))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	a, _ := tok.BalanceOf(ctx, alice)
	if a.Int64() != 100 {
		t.Errorf("failed transfer mutated balance: %s", a)
	}
}

func TestTransferZeroAmount(t *testing.T) {
	ctx := context.Background()
	tok := NewMemToken("USDX")
	tok.Mint(alice, big.NewInt(100))

	if err := tok.Transfer(ctx, alice, bob, big.NewInt(0)); !errors.Is(err, domain.ErrZeroAmount) {
		t.Fatalf("got %v, want ErrZeroAmount", err)
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemToken("USDX")
	tok.Mint(alice, big.NewInt(1000))

	if err := tok.Approve(ctx, alice, carol, big.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := tok.TransferFrom(ctx, carol, alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}

	rem, _ := tok.Allowance(ctx, alice, carol)
	if rem.Int64() != 200 {
		t.Errorf("remaining allowance = %s, want 200", rem)
	}

	err := tok.TransferFrom(ctx, carol, alice, bob, big.NewInt(201))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want ErrInsufficientAllowance", err)
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	ctx := context.Background()
	tok := NewMemToken("USDX")
	tok.Mint(alice, big.NewInt(1000))

	b, _ := tok.BalanceOf(ctx, alice)
	b.SetInt64(0)

	again, _ := tok.BalanceOf(ctx, alice)
	if again.Int64() != 1000 {
		t.Errorf("caller mutated internal balance: %s", again)
	}
}
