// Package tokens computes balanced initial tokens for a token ring.
package tokens

import (
	"fmt"
	"math/big"

	"github.com/dyluth/cstar/pkg/cluster"
)

var (
	two64  = new(big.Int).Lsh(big.NewInt(1), 64)
	two63  = new(big.Int).Lsh(big.NewInt(1), 63)
	two127 = new(big.Int).Lsh(big.NewInt(1), 127)
)

// Plan returns nodeCount evenly spaced tokens in ascending order for the
// given partitioner. The result depends only on its inputs.
func Plan(p cluster.Partitioner, nodeCount int) ([]*big.Int, error) {
	if nodeCount < 1 {
		return nil, fmt.Errorf("node count must be >= 1, got %d", nodeCount)
	}

	n := big.NewInt(int64(nodeCount))
	var step, offset *big.Int

	switch p {
	case cluster.PartitionerMurmur3:
		step = new(big.Int).Div(two64, n)
		offset = new(big.Int).Neg(two63)
	case cluster.PartitionerRandom:
		step = new(big.Int).Div(two127, n)
		offset = new(big.Int)
	default:
		return nil, &cluster.UnsupportedPartitionerError{Partitioner: string(p)}
	}

	out := make([]*big.Int, nodeCount)
	for i := range out {
		tok := new(big.Int).Mul(step, big.NewInt(int64(i)))
		out[i] = tok.Add(tok, offset)
	}
	return out, nil
}

// PlanStrings is Plan with the tokens rendered in base 10, the form
// cassandra.yaml expects for initial_token.
func PlanStrings(p cluster.Partitioner, nodeCount int) ([]string, error) {
	toks, err := Plan(p, nodeCount)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.String()
	}
	return out, nil
}
