package solver

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var transferSelector = selector4("transfer(address,uint256)")

func selector4(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func packERC20Transfer(to common.Address, amount *big.Int) []byte {
	addrT, _ := abi.NewType("address", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addrT}, {Type: uint256T}}
	packed, _ := args.Pack(to, amount)
	return append(append([]byte{}, transferSelector...), packed...)
}
