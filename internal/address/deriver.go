package address

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewDeriver is given a non-positive size.
const DefaultCacheSize = 4096

// Derived is a program address together with the bump that produced it.
type Derived struct {
	Address Address
	Bump    uint8
}

// Deriver memoises FindProgramAddress for one program. The bump search costs
// up to 256 hashes and curve checks, and the same tuples are derived on every
// request touching an escrow.
type Deriver struct {
	program Address
	cache   *lru.Cache[Address, Derived]
}

func NewDeriver(program Address, size int) (*Deriver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[Address, Derived](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create derivation cache: %w", err)
	}
	return &Deriver{program: program, cache: cache}, nil
}

// Program returns the program the deriver derives for.
func (d *Deriver) Program() Address {
	return d.program
}

// Find returns the program address and bump for seeds.
func (d *Deriver) Find(seeds ...[]byte) (Derived, error) {
	key := d.cacheKey(seeds)
	if v, ok := d.cache.Get(key); ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMisses.Inc()

	addr, bump, err := FindProgramAddress(seeds, d.program)
	if err != nil {
		return Derived{}, err
	}
	v := Derived{Address: addr, Bump: bump}
	d.cache.Add(key, v)
	return v, nil
}

// Verify checks addr against seeds and a stored bump.
func (d *Deriver) Verify(addr Address, bump uint8, seeds ...[]byte) bool {
	return VerifyProgramAddress(seeds, bump, d.program, addr)
}

// Len reports how many derivations are cached.
func (d *Deriver) Len() int {
	return d.cache.Len()
}

func (d *Deriver) cacheKey(seeds [][]byte) Address {
	parts := make([][]byte, 0, 2*len(seeds)+1)
	parts = append(parts, d.program[:])
	for _, s := range seeds {
		parts = append(parts, []byte{byte(len(s))}, s)
	}
	var k Address
	copy(k[:], crypto.Keccak256(parts...))
	return k
}
