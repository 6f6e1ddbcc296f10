package auth

import "strings"

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= bech32Generator[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, byte(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, byte(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []byte) bool {
	values := append(bech32HRPExpand(hrp), data...)
	return bech32Polymod(values) == 1
}

// bech32Decode decodes a bech32 string, verifies its checksum against hrp,
// and returns the 5-bit data payload (checksum stripped).
func bech32Decode(s, hrp string) ([]byte, error) {
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return nil, ErrInvalidAddress // mixed case is invalid per BIP173
	}
	s = lower

	if len(s) < len(hrp)+1+6 {
		return nil, ErrInvalidAddress
	}
	if !strings.HasPrefix(s, hrp+"1") {
		return nil, ErrInvalidAddress
	}

	dataPart := s[len(hrp)+1:]
	data := make([]byte, len(dataPart))
	for i, c := range dataPart {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return nil, ErrInvalidAddress
		}
		data[i] = byte(idx)
	}

	if !bech32VerifyChecksum(hrp, data) {
		return nil, ErrChecksumMismatch
	}
	return data[:len(data)-6], nil
}

// convertBits re-groups a bit-packed byte slice from fromBits-wide groups to
// toBits-wide groups, used to turn bech32's 5-bit words into 8-bit witness
// program bytes (and back).
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	var out []byte
	maxv := uint32(1)<<toBits - 1

	for _, b := range data {
		if uint32(b)>>fromBits != 0 {
			return nil, ErrInvalidAddress
		}
		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits)&byte(maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits))&byte(maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, ErrInvalidAddress
	}
	return out, nil
}

// validateBech32 decodes a segwit address of the form hrp1<data>, extracting
// the witness version (first 5-bit word, 0-16) and witness program.
func validateBech32(addr, hrp string) (*ValidatedAddress, error) {
	data, err := bech32Decode(addr, hrp)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, ErrInvalidAddress
	}
	witnessVersion := int(data[0])
	if witnessVersion > 16 {
		return nil, ErrInvalidAddress
	}

	program, err := convertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(program) < 2 || len(program) > 40 {
		return nil, ErrInvalidAddress
	}
	if witnessVersion == 0 && len(program) != 20 && len(program) != 32 {
		return nil, ErrInvalidAddress
	}

	return &ValidatedAddress{
		Kind:           ScriptWitness,
		WitnessVersion: witnessVersion,
		Program:        program,
	}, nil
}
