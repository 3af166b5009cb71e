package token

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errEmptySymbol    = errors.New("token book: symbol must not be empty")
	errDecimalsTooBig = errors.New("token book: decimals above 18 are not supported")
	errAlreadyListed  = errors.New("token book: asset already listed")
	errUnknownAsset   = errors.New("token book: unknown asset")
)

// Token describes a listed debt asset.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Book is the in-process registry of debt-asset metadata. Listings come from
// configuration at startup and from admin calls afterwards, so a mutex-guarded
// map suffices.
type Book struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

// NewBook constructs an empty token book.
func NewBook() *Book {
	return &Book{tokens: make(map[common.Address]Token)}
}

// Register lists an asset. Assets with more than 18 decimals cannot be scaled
// into the working precision and are rejected.
func (b *Book) Register(addr common.Address, symbol string, decimals uint8) error {
	if symbol == "" {
		return errEmptySymbol
	}
	if decimals > 18 {
		return errDecimalsTooBig
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tokens[addr]; ok {
		return errAlreadyListed
	}
	b.tokens[addr] = Token{Address: addr, Symbol: symbol, Decimals: decimals}
	return nil
}

// Decimals returns the asset's native decimal count.
func (b *Book) Decimals(addr common.Address) (uint8, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tok, ok := b.tokens[addr]
	if !ok {
		return 0, errUnknownAsset
	}
	return tok.Decimals, nil
}

// Symbol returns the asset's display symbol.
func (b *Book) Symbol(addr common.Address) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tok, ok := b.tokens[addr]
	if !ok {
		return "", errUnknownAsset
	}
	return tok.Symbol, nil
}

// List returns every listed token.
func (b *Book) List() []Token {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Token, 0, len(b.tokens))
	for _, tok := range b.tokens {
		out = append(out, tok)
	}
	return out
}
