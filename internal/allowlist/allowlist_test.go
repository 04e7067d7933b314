package allowlist

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/internal/model"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	asset    = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	oracle   = common.HexToAddress("0x00000000000000000000000000000000000000F1")
)

func TestAddRemove(t *testing.T) {
	a := New(owner)

	if err := a.Add(stranger, asset, oracle); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := a.Add(owner, common.Address{}, oracle); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress for asset, got %v", err)
	}
	if err := a.Add(owner, asset, common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress for oracle, got %v", err)
	}

	if err := a.Add(owner, asset, oracle); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.Add(owner, asset, oracle); !errors.Is(err, ErrAlreadySupported) {
		t.Fatalf("expected ErrAlreadySupported, got %v", err)
	}

	if !a.Supported(asset) {
		t.Fatalf("asset should be supported")
	}
	if got, ok := a.Oracle(asset); !ok || got != oracle {
		t.Fatalf("oracle lookup: %s %v", got.Hex(), ok)
	}

	if err := a.Remove(stranger, asset); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on remove, got %v", err)
	}
	if err := a.Remove(owner, asset); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := a.Remove(owner, asset); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if a.Supported(asset) {
		t.Fatalf("removed asset still supported")
	}
}

func TestEntriesAndRestore(t *testing.T) {
	a := New(owner)

	entries := []model.AssetEntry{
		{Asset: asset.Hex(), Oracle: oracle.Hex()},
	}
	if err := a.Restore(entries); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !a.Supported(asset) {
		t.Fatalf("restored asset not supported")
	}
	if got := a.Entries(); !reflect.DeepEqual(got, entries) {
		t.Fatalf("entries mismatch: %+v != %+v", got, entries)
	}

	if err := a.Restore([]model.AssetEntry{{Asset: "bogus", Oracle: oracle.Hex()}}); err == nil {
		t.Fatalf("expected restore to reject bad asset address")
	}
}
