package testutil

import (
	"fmt"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

// StrategySource is a small champion with three mechanisms:
// fee_schedule (lines 8-11), spread_model (13-15) and inventory (17-19).
const StrategySource = `pragma solidity ^0.8.24;

contract Strategy {
    uint256 public baseFee = 30;
    uint256 public spreadBps = 10;
    int256 public inventory;

    function computeFee(uint256 amount) public view returns (uint256) {
        uint256 fee = amount * baseFee / 10000;
        return fee;
    }

    function computeSpread(uint256 price) public view returns (uint256) {
        return price * spreadBps / 10000;
    }

    function rebalance(int256 delta) public {
        inventory += delta;
    }
}
`

// BaselineEdge is the edge of the StrategySource champion.
const BaselineEdge = 100.0

// DefinitionsJSON defines the StrategySource mechanisms.
const DefinitionsJSON = `{
  "schema_version": 2,
  "champion_file": ".best_strategy.sol",
  "champion_edge": 100,
  "mechanisms": {
    "fee_schedule": {
      "current_implementation": "flat fee in basis points",
      "parameters": {"base_fee_bps": 30},
      "modification_directions": ["scale with trade size"],
      "allowed_overlap_with": ["spread_model"],
      "anchors": [{"start": "function computeFee", "end": "return fee;", "after": 1}]
    },
    "spread_model": {
      "current_implementation": "constant spread",
      "anchors": [{"start": "function computeSpread", "end": "    }"}]
    },
    "inventory": {
      "current_implementation": "unbounded inventory",
      "code_location": "lines 17-19",
      "anchors": [{"start": "function rebalance", "end": "    }"}]
    }
  }
}
`

// Mutations that touch exactly one mechanism of StrategySource.
var (
	FeeChange       = [2]string{"amount * baseFee / 10000", "amount * baseFee / 9000"}
	SpreadChange    = [2]string{"price * spreadBps / 10000", "price * spreadBps / 8000"}
	InventoryChange = [2]string{"inventory += delta;", "inventory += delta / 2;"}
	HeaderChange    = [2]string{"uint256 public baseFee = 30;", "uint256 public baseFee = 31;"}
)

// Apply applies mutations to StrategySource in order.
func Apply(changes ...[2]string) string {
	src := StrategySource
	for _, c := range changes {
		src = Mutate(src, c[0], c[1])
	}
	return src
}

// Champion returns the fixture champion.
func Champion() ir.Champion {
	return ir.NewChampion(StrategySource, BaselineEdge)
}

// Definitions parses DefinitionsJSON.
func Definitions() *policy.Document {
	doc, err := policy.Parse([]byte(DefinitionsJSON))
	if err != nil {
		panic(fmt.Sprintf("testutil: fixture definitions: %v", err))
	}
	return doc
}
