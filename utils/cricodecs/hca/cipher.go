package hca

import (
	"encoding/binary"
	"fmt"
)

type CipherType uint16

const (
	CipherNone    CipherType = 0
	CipherKeyless CipherType = 1
	CipherKeyed   CipherType = 56
)

var crcMaskTable = [256]uint16{
	0x0000, 0x8005, 0x800F, 0x000A, 0x801B, 0x001E, 0x0014, 0x8011, 0x8033, 0x0036, 0x003C, 0x8039, 0x0028, 0x802D, 0x8027, 0x0022,
	0x8063, 0x0066, 0x006C, 0x8069, 0x0078, 0x807D, 0x8077, 0x0072, 0x0050, 0x8055, 0x805F, 0x005A, 0x804B, 0x004E, 0x0044, 0x8041,
	0x80C3, 0x00C6, 0x00CC, 0x80C9, 0x00D8, 0x80DD, 0x80D7, 0x00D2, 0x00F0, 0x80F5, 0x80FF, 0x00FA, 0x80EB, 0x00EE, 0x00E4, 0x80E1,
	0x00A0, 0x80A5, 0x80AF, 0x00AA, 0x80BB, 0x00BE, 0x00B4, 0x80B1, 0x8093, 0x0096, 0x009C, 0x8099, 0x0088, 0x808D, 0x8087, 0x0082,
	0x8183, 0x0186, 0x018C, 0x8189, 0x0198, 0x819D, 0x8197, 0x0192, 0x01B0, 0x81B5, 0x81BF, 0x01BA, 0x81AB, 0x01AE, 0x01A4, 0x81A1,
	0x01E0, 0x81E5, 0x81EF, 0x01EA, 0x81FB, 0x01FE, 0x01F4, 0x81F1, 0x81D3, 0x01D6, 0x01DC, 0x81D9, 0x01C8, 0x81CD, 0x81C7, 0x01C2,
	0x0140, 0x8145, 0x814F, 0x014A, 0x815B, 0x015E, 0x0154, 0x8151, 0x8173, 0x0176, 0x017C, 0x8179, 0x0168, 0x816D, 0x8167, 0x0162,
	0x8123, 0x0126, 0x012C, 0x8129, 0x0138, 0x813D, 0x8137, 0x0132, 0x0110, 0x8115, 0x811F, 0x011A, 0x810B, 0x010E, 0x0104, 0x8101,
	0x8303, 0x0306, 0x030C, 0x8309, 0x0318, 0x831D, 0x8317, 0x0312, 0x0330, 0x8335, 0x833F, 0x033A, 0x832B, 0x032E, 0x0324, 0x8321,
	0x0360, 0x8365, 0x836F, 0x036A, 0x837B, 0x037E, 0x0374, 0x8371, 0x8353, 0x0356, 0x035C, 0x8359, 0x0348, 0x834D, 0x8347, 0x0342,
	0x03C0, 0x83C5, 0x83CF, 0x03CA, 0x83DB, 0x03DE, 0x03D4, 0x83D1, 0x83F3, 0x03F6, 0x03FC, 0x83F9, 0x03E8, 0x83ED, 0x83E7, 0x03E2,
	0x83A3, 0x03A6, 0x03AC, 0x83A9, 0x03B8, 0x83BD, 0x83B7, 0x03B2, 0x0390, 0x8395, 0x839F, 0x039A, 0x838B, 0x038E, 0x0384, 0x8381,
	0x0280, 0x8285, 0x828F, 0x028A, 0x829B, 0x029E, 0x0294, 0x8291, 0x82B3, 0x02B6, 0x02BC, 0x82B9, 0x02A8, 0x82AD, 0x82A7, 0x02A2,
	0x82E3, 0x02E6, 0x02EC, 0x82E9, 0x02F8, 0x82FD, 0x82F7, 0x02F2, 0x02D0, 0x82D5, 0x82DF, 0x02DA, 0x82CB, 0x02CE, 0x02C4, 0x82C1,
	0x8243, 0x0246, 0x024C, 0x8249, 0x0258, 0x825D, 0x8257, 0x0252, 0x0270, 0x8275, 0x827F, 0x027A, 0x826B, 0x026E, 0x0264, 0x8261,
	0x0220, 0x8225, 0x822F, 0x022A, 0x823B, 0x023E, 0x0234, 0x8231, 0x8213, 0x0216, 0x021C, 0x8219, 0x0208, 0x820D, 0x8207, 0x0202,
}

// crc16Checksum is zero over a block that ends with its own big endian checksum.
func crc16Checksum(data []byte) uint16 {
	sum := uint16(0)
	for _, b := range data {
		sum = (sum << 8) ^ crcMaskTable[(sum>>8)^uint16(b)]
	}
	return sum
}

// putChecksum stores the checksum of block[:len-2] in its last two bytes.
func putChecksum(block []byte) {
	n := len(block) - 2
	binary.BigEndian.PutUint16(block[n:], crc16Checksum(block[:n]))
}

// MixKey folds a per-archive subkey into the primary key.
func MixKey(key uint64, awbKey uint16) uint64 {
	if awbKey != 0 {
		sub := uint64(awbKey)
		key = key * ((sub << 16) | (uint64(^uint16(sub)) + 2))
	}
	return key
}

func tableNone() (t [256]byte) {
	for i := range t {
		t[i] = byte(i)
	}
	return t
}

func tableKeyless() (t [256]byte) {
	const mul = 13
	const add = 11
	v := uint(0)
	for i := 1; i < 255; i++ {
		v = (v*mul + add) & 0xFF
		if v == 0 || v == 0xFF {
			v = (v*mul + add) & 0xFF
		}
		t[i] = byte(v)
	}
	t[0] = 0
	t[0xFF] = 0xFF
	return t
}

func keyedRow(key byte) (r [16]byte) {
	mul := ((key & 1) << 3) | 5
	add := (key & 0xE) | 1
	key >>= 4
	for i := range r {
		key = (key*mul + add) & 0xF
		r[i] = key
	}
	return r
}

func tableKeyed(keycode uint64) (t [256]byte) {
	var kc [8]byte
	var seed [16]byte
	var base [256]byte

	if keycode != 0 {
		keycode--
	}
	for r := 0; r < 7; r++ {
		kc[r] = byte(keycode & 0xFF)
		keycode >>= 8
	}

	seed[0x00] = kc[1]
	seed[0x01] = kc[1] ^ kc[6]
	seed[0x02] = kc[2] ^ kc[3]
	seed[0x03] = kc[2]
	seed[0x04] = kc[2] ^ kc[1]
	seed[0x05] = kc[3] ^ kc[4]
	seed[0x06] = kc[3]
	seed[0x07] = kc[3] ^ kc[2]
	seed[0x08] = kc[4] ^ kc[5]
	seed[0x09] = kc[4]
	seed[0x0A] = kc[4] ^ kc[3]
	seed[0x0B] = kc[5] ^ kc[6]
	seed[0x0C] = kc[5]
	seed[0x0D] = kc[5] ^ kc[4]
	seed[0x0E] = kc[6] ^ kc[1]
	seed[0x0F] = kc[6]

	rows := keyedRow(kc[0])
	for r := 0; r < 16; r++ {
		cols := keyedRow(seed[r])
		hi := rows[r] << 4
		for c := 0; c < 16; c++ {
			base[r*16+c] = hi | cols[c]
		}
	}

	x := 0
	pos := 1
	for i := 0; i < 256; i++ {
		x = (x + 17) & 0xFF
		if base[x] != 0 && base[x] != 0xFF {
			t[pos] = base[x]
			pos++
		}
	}
	t[0] = 0
	t[0xFF] = 0xFF
	return t
}

// decryptTable maps encrypted bytes to plain bytes. A keyed cipher with a zero key is treated as plain.
func decryptTable(typ CipherType, key uint64) ([256]byte, error) {
	switch {
	case typ == CipherNone, typ == CipherKeyed && key == 0:
		return tableNone(), nil
	case typ == CipherKeyless:
		return tableKeyless(), nil
	case typ == CipherKeyed:
		return tableKeyed(key), nil
	}
	return [256]byte{}, fmt.Errorf("%w: type %d", ErrUnsupportedCipher, typ)
}

// encryptTable is the inverse of decryptTable for the keyless cipher.
func encryptTable(typ CipherType) ([256]byte, error) {
	switch typ {
	case CipherNone:
		return tableNone(), nil
	case CipherKeyless:
		dec := tableKeyless()
		var enc [256]byte
		for i, v := range dec {
			enc[v] = byte(i)
		}
		return enc, nil
	}
	return [256]byte{}, fmt.Errorf("%w: cannot encrypt to type %d", ErrUnsupportedCipher, typ)
}

// DecryptInPlace removes the stream cipher from every frame and re-ciphers the stream as target.
// Frame and header checksums are rewritten. Streams without a ciph chunk are left untouched.
func DecryptInPlace(data []byte, key uint64, awbKey uint16, target CipherType) error {
	info, err := ParseHeader(data)
	if err != nil {
		return err
	}
	if info.CipherOffset < 0 {
		return nil
	}
	dec, err := decryptTable(info.CipherType, MixKey(key, awbKey))
	if err != nil {
		return err
	}
	enc, err := encryptTable(target)
	if err != nil {
		return err
	}
	var table [256]byte
	for i := range table {
		table[i] = enc[dec[i]]
	}

	for f := 0; f < info.FrameCount; f++ {
		start := info.HeaderSize + f*info.FrameSize
		end := start + info.FrameSize
		if end > len(data) {
			return fmt.Errorf("%w: frame %d of %d is truncated", ErrBadHeader, f, info.FrameCount)
		}
		frame := data[start:end]
		for i := range frame {
			frame[i] = table[frame[i]]
		}
		putChecksum(frame)
	}

	binary.BigEndian.PutUint16(data[info.CipherOffset+4:], uint16(target))
	putChecksum(data[:info.HeaderSize])
	return nil
}
