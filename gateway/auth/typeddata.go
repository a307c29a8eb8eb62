package auth

import (
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain published to signing clients. The chain id comes from
// configuration so test networks produce distinct digests.
const (
	TypedDataDomainName    = "Mycelix Music"
	TypedDataDomainVersion = "1"
)

var typedDataDomainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

func typedDataDomain(chainID int64) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:    TypedDataDomainName,
		Version: TypedDataDomainVersion,
		ChainId: math.NewHexOrDecimal256(chainID),
	}
}

// SongTypedData is the EIP-712 equivalent of SongMessage. The nonce field
// is always present in the struct; clients sign an empty string when no
// nonce is used.
func SongTypedData(chainID int64, songID, artistAddress, ipfsHash, paymentModel, nonce string, timestamp int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": typedDataDomainFields,
			"SongRegistration": {
				{Name: "songId", Type: "string"},
				{Name: "artist", Type: "address"},
				{Name: "ipfsHash", Type: "string"},
				{Name: "paymentModel", Type: "string"},
				{Name: "nonce", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "SongRegistration",
		Domain:      typedDataDomain(chainID),
		Message: apitypes.TypedDataMessage{
			"songId":       songID,
			"artist":       artistAddress,
			"ipfsHash":     ipfsHash,
			"paymentModel": paymentModel,
			"nonce":        nonce,
			"timestamp":    math.NewHexOrDecimal256(timestamp),
		},
	}
}

// PlayTypedData is the EIP-712 equivalent of PlayMessage.
func PlayTypedData(chainID int64, songID, listener, amountWei string, paymentType uint8, nonce string, timestamp int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": typedDataDomainFields,
			"Play": {
				{Name: "songId", Type: "string"},
				{Name: "listener", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "paymentType", Type: "uint8"},
				{Name: "nonce", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "Play",
		Domain:      typedDataDomain(chainID),
		Message: apitypes.TypedDataMessage{
			"songId":      songID,
			"listener":    listener,
			"amount":      amountWei,
			"paymentType": math.NewHexOrDecimal256(int64(paymentType)),
			"nonce":       nonce,
			"timestamp":   math.NewHexOrDecimal256(timestamp),
		},
	}
}

// ClaimTypedData is the EIP-712 equivalent of ClaimMessage.
func ClaimTypedData(chainID int64, songID, artistAddress, ipfsHash, title, nonce string, timestamp int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": typedDataDomainFields,
			"Claim": {
				{Name: "songId", Type: "string"},
				{Name: "artist", Type: "address"},
				{Name: "ipfsHash", Type: "string"},
				{Name: "title", Type: "string"},
				{Name: "nonce", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "Claim",
		Domain:      typedDataDomain(chainID),
		Message: apitypes.TypedDataMessage{
			"songId":    songID,
			"artist":    artistAddress,
			"ipfsHash":  ipfsHash,
			"title":     title,
			"nonce":     nonce,
			"timestamp": math.NewHexOrDecimal256(timestamp),
		},
	}
}

// SessionTypedData is the EIP-712 equivalent of SessionMessage.
func SessionTypedData(chainID int64, address, nonce string, timestamp int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": typedDataDomainFields,
			"Session": {
				{Name: "address", Type: "address"},
				{Name: "nonce", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		PrimaryType: "Session",
		Domain:      typedDataDomain(chainID),
		Message: apitypes.TypedDataMessage{
			"address":   address,
			"nonce":     nonce,
			"timestamp": math.NewHexOrDecimal256(timestamp),
		},
	}
}
