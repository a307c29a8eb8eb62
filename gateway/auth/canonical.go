package auth

import (
	"strconv"
	"strings"
)

// Canonical message prefixes. Clients sign these exact pipe-delimited
// payloads; the server rebuilds them from the request body and never
// trusts client-supplied message text. The nonce segment is omitted when
// no nonce is supplied.
const (
	songMessagePrefix    = "mycelix-song"
	playMessagePrefix    = "mycelix-play"
	claimMessagePrefix   = "mycelix-claim"
	sessionMessagePrefix = "mycelix-session"
)

// SongMessage builds the canonical song registration payload:
// mycelix-song|{id}|{artistAddress}|{ipfsHash}|{paymentModel}|[{nonce}|]{timestamp}
func SongMessage(songID, artistAddress, ipfsHash, paymentModel, nonce string, timestamp int64) string {
	return joinMessage(songMessagePrefix, []string{songID, artistAddress, ipfsHash, paymentModel}, nonce, timestamp)
}

// PlayMessage builds the canonical play payload:
// mycelix-play|{songId}|{listener}|{amount}|{paymentType}|[{nonce}|]{timestamp}
func PlayMessage(songID, listener, amountWei string, paymentType uint8, nonce string, timestamp int64) string {
	fields := []string{songID, listener, amountWei, strconv.Itoa(int(paymentType))}
	return joinMessage(playMessagePrefix, fields, nonce, timestamp)
}

// ClaimMessage builds the canonical ownership claim payload:
// mycelix-claim|{songId}|{artistAddress}|{ipfsHash}|{title}|[{nonce}|]{timestamp}
func ClaimMessage(songID, artistAddress, ipfsHash, title, nonce string, timestamp int64) string {
	return joinMessage(claimMessagePrefix, []string{songID, artistAddress, ipfsHash, title}, nonce, timestamp)
}

// SessionMessage builds the canonical session challenge payload:
// mycelix-session|{address}|[{nonce}|]{timestamp}
func SessionMessage(address, nonce string, timestamp int64) string {
	return joinMessage(sessionMessagePrefix, []string{address}, nonce, timestamp)
}

func joinMessage(prefix string, fields []string, nonce string, timestamp int64) string {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, prefix)
	parts = append(parts, fields...)
	if strings.TrimSpace(nonce) != "" {
		parts = append(parts, nonce)
	}
	parts = append(parts, strconv.FormatInt(timestamp, 10))
	return strings.Join(parts, "|")
}
