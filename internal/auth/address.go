// Package auth implements the stratifier's username/address validation,
// password-embedded-difficulty parsing, and authentication backoff.
package auth

import (
	"crypto/sha256"
	"errors"
	"strings"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for hash160 address derivation
)

var (
	ErrInvalidAddress  = errors.New("auth: invalid address")
	ErrChecksumMismatch = errors.New("auth: base58check checksum mismatch")
	ErrBadWorkerName    = errors.New("auth: invalid worker name")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// decodeBase58 decodes a Base58 string into its big-endian byte payload
// (including any leading-zero bytes re-inserted for leading '1' characters).
func decodeBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidAddress
	}

	num := make([]byte, 0, len(s))
	for _, c := range s {
		idx := strings.IndexRune(base58Alphabet, c)
		if idx < 0 {
			return nil, ErrInvalidAddress
		}
		num = append(num, byte(idx))
	}

	// Convert base58 digits to a big-endian byte array via repeated
	// base-256 long division, base-58 style (schoolbook conversion).
	decoded := make([]byte, 0, len(s))
	for _, d := range num {
		carry := int(d)
		for i := 0; i < len(decoded); i++ {
			carry += int(decoded[i]) * 58
			decoded[i] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			decoded = append(decoded, byte(carry&0xff))
			carry >>= 8
		}
	}
	// decoded is little-endian; reverse to big-endian.
	for i, j := 0, len(decoded)-1; i < j; i, j = i+1, j-1 {
		decoded[i], decoded[j] = decoded[j], decoded[i]
	}

	// Re-insert one leading zero byte per leading '1' character.
	leadingZeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		leadingZeros++
	}
	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}

func doubleSha256Sum(b []byte) [32]byte {
	h1 := sha256.Sum256(b)
	return sha256.Sum256(h1[:])
}

// decodeBase58Check decodes and verifies a Base58Check-encoded payload,
// returning the version byte and the 20-byte hash it wraps.
func decodeBase58Check(s string) (version byte, payload []byte, err error) {
	raw, err := decodeBase58(s)
	if err != nil {
		return 0, nil, err
	}
	if len(raw) < 5 {
		return 0, nil, ErrInvalidAddress
	}
	body, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	want := doubleSha256Sum(body)
	if string(want[:4]) != string(checksum) {
		return 0, nil, ErrChecksumMismatch
	}
	return body[0], body[1:], nil
}

// ScriptKind distinguishes the three address families the stratifier
// accepts from miner-supplied usernames.
type ScriptKind int

const (
	ScriptP2PKH ScriptKind = iota
	ScriptP2SH
	ScriptWitness
)

// ValidatedAddress is the parsed, scriptPubKey-ready result of ValidateAddress.
type ValidatedAddress struct {
	Kind           ScriptKind
	WitnessVersion int // only meaningful when Kind == ScriptWitness
	Program        []byte
}

// ValidateAddress validates a Bitcoin address against an exact
// byte-length contract: Base58 P2PKH and P2SH both decode to a 25-byte
// payload (1 version + 20 hash + 4 checksum) and are told apart by the
// version byte; Bech32 segwit decodes to a variable-length witness program.
func ValidateAddress(addr string, p2pkhVersion, p2shVersion byte, bech32HRP string) (*ValidatedAddress, error) {
	if strings.HasPrefix(strings.ToLower(addr), bech32HRP+"1") {
		return validateBech32(addr, bech32HRP)
	}

	version, hash, err := decodeBase58Check(addr)
	if err != nil {
		return nil, err
	}
	if len(hash) != 20 {
		return nil, ErrInvalidAddress
	}

	switch version {
	case p2pkhVersion:
		return &ValidatedAddress{Kind: ScriptP2PKH, Program: hash}, nil
	case p2shVersion:
		return &ValidatedAddress{Kind: ScriptP2SH, Program: hash}, nil
	default:
		return nil, ErrInvalidAddress
	}
}

// ScriptPubKey constructs the scriptPubKey bytes for a validated address:
// 25 bytes for P2PKH, 23 for P2SH, variable length (OP_n <program>) for
// witness programs.
func (v *ValidatedAddress) ScriptPubKey() []byte {
	switch v.Kind {
	case ScriptP2PKH:
		s := make([]byte, 0, 25)
		s = append(s, 0x76, 0xa9, 0x14) // OP_DUP OP_HASH160 <20>
		s = append(s, v.Program...)
		s = append(s, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
		return s
	case ScriptP2SH:
		s := make([]byte, 0, 23)
		s = append(s, 0xa9, 0x14) // OP_HASH160 <20>
		s = append(s, v.Program...)
		s = append(s, 0x87) // OP_EQUAL
		return s
	case ScriptWitness:
		s := make([]byte, 0, 2+len(v.Program))
		s = append(s, witnessVersionOpcode(v.WitnessVersion))
		s = append(s, byte(len(v.Program)))
		s = append(s, v.Program...)
		return s
	}
	return nil
}

func witnessVersionOpcode(version int) byte {
	if version == 0 {
		return 0x00
	}
	return byte(0x50 + version) // OP_1..OP_16
}

// Hash160 computes RIPEMD160(SHA256(data)) — the standard Bitcoin pubkey
// hash, exposed so the pool can derive a P2PKH payout script directly from a
// configured public key rather than requiring a pre-encoded address.
func Hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}

// ParseWorkerUsername splits a stratum username of the form
// "address.workername" (or bare "address") and validates the workername is
// non-empty, contains no '/', and is not the single character "." or "_".
func ParseWorkerUsername(username string) (addr, worker string, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", ErrBadWorkerName
	}
	idx := strings.IndexByte(username, '.')
	if idx < 0 {
		return username, "", nil
	}
	addr = username[:idx]
	worker = username[idx+1:]
	if worker == "" || worker == "." || worker == "_" || strings.Contains(worker, "/") {
		return "", "", ErrBadWorkerName
	}
	return addr, worker, nil
}
