// Package models holds the data types shared across the solver: intents,
// authorizations, solution plans, and the job records that flow through
// the queue.
package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol distinguishes the two settlement variants an intent can target.
type Protocol int

const (
	ProtocolERC20 Protocol = iota
	ProtocolERC721
)

func (p Protocol) String() string {
	if p == ProtocolERC721 {
		return "ERC721"
	}
	return "ERC20"
}

// Intent is the maker's signed order. The 18 common fields are shared by
// both protocols; IsCriteriaOrder/TokenIdOrCriteria only apply to ERC-721
// intents and are left at their zero value for ERC-20 ones.
type Intent struct {
	IsBuy     bool
	BuyToken  common.Address
	SellToken common.Address
	Maker     common.Address
	Solver    common.Address
	Source    common.Address

	FeeBps     uint16
	SurplusBps uint16

	StartTime uint32
	EndTime   uint32

	Nonce *big.Int

	IsPartiallyFillable bool
	IsSmartOrder        bool
	IsIncentivized      bool

	Amount    *big.Int
	EndAmount *big.Int

	StartAmountBps    uint16
	ExpectedAmountBps uint16

	Signature []byte

	// ERC-721 add-ons.
	IsCriteriaOrder   bool
	TokenIdOrCriteria *big.Int
}

// IsCollectionWide reports whether an ERC-721 intent targets any token id
// in the collection rather than one specific id.
func (i *Intent) IsCollectionWide() bool {
	return i.TokenIdOrCriteria == nil || i.TokenIdOrCriteria.Sign() == 0
}

// Clone returns a deep-enough copy for safe concurrent use (big.Int and
// byte-slice fields are copied; addresses are value types already).
func (i Intent) Clone() Intent {
	c := i
	if i.Nonce != nil {
		c.Nonce = new(big.Int).Set(i.Nonce)
	}
	if i.Amount != nil {
		c.Amount = new(big.Int).Set(i.Amount)
	}
	if i.EndAmount != nil {
		c.EndAmount = new(big.Int).Set(i.EndAmount)
	}
	if i.TokenIdOrCriteria != nil {
		c.TokenIdOrCriteria = new(big.Int).Set(i.TokenIdOrCriteria)
	}
	if i.Signature != nil {
		c.Signature = append([]byte(nil), i.Signature...)
	}
	return c
}

// Authorization is issued by the matchmaker: it names a solver, an intent,
// fill caps, and a block deadline, and is single-use.
type Authorization struct {
	IntentHash           [32]byte
	Solver               common.Address
	FillAmountToCheck    *big.Int
	ExecuteAmountToCheck *big.Int
	BlockDeadline        uint32
	Signature            []byte
}
