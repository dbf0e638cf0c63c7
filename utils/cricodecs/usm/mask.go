package usm

import "bytes"

// getMask derives the video and audio masks from a 64-bit key.
func getMask(key uint64) ([][]byte, []byte) {
	key1 := uint32(key & 0xFFFFFFFF)
	key2 := uint32((key >> 32) & 0xFFFFFFFF)

	t := make([]byte, 0x20)
	t[0x00] = byte(key1 & 0xFF)
	t[0x01] = byte((key1 >> 8) & 0xFF)
	t[0x02] = byte((key1 >> 16) & 0xFF)
	t[0x03] = byte(((key1 >> 24) & 0xFF) - 0x34)
	t[0x04] = byte(((key2 & 0xF) + 0xF9) & 0xFF)
	t[0x05] = byte(((key2 >> 8) & 0xFF) ^ 0x13)
	t[0x06] = byte((((key2 >> 16) & 0xFF) + 0x61) & 0xFF)
	t[0x07] = t[0x00] ^ 0xFF
	t[0x08] = byte((int(t[0x02]) + int(t[0x01])) & 0xFF)
	t[0x09] = byte((int(t[0x01]) - int(t[0x07])) & 0xFF)
	t[0x0A] = t[0x02] ^ 0xFF
	t[0x0B] = t[0x01] ^ 0xFF
	t[0x0C] = byte((int(t[0x0B]) + int(t[0x09])) & 0xFF)
	t[0x0D] = byte((int(t[0x08]) - int(t[0x03])) & 0xFF)
	t[0x0E] = t[0x0D] ^ 0xFF
	t[0x0F] = byte((int(t[0x0A]) - int(t[0x0B])) & 0xFF)
	t[0x10] = byte((int(t[0x08]) - int(t[0x0F])) & 0xFF)
	t[0x11] = t[0x10] ^ t[0x07]
	t[0x12] = t[0x0F] ^ 0xFF
	t[0x13] = t[0x03] ^ 0x10
	t[0x14] = byte((int(t[0x04]) - 0x32) & 0xFF)
	t[0x15] = byte((int(t[0x05]) + 0xED) & 0xFF)
	t[0x16] = t[0x06] ^ 0xF3
	t[0x17] = byte((int(t[0x13]) - int(t[0x0F])) & 0xFF)
	t[0x18] = byte((int(t[0x15]) + int(t[0x07])) & 0xFF)
	t[0x19] = byte((0x21 - int(t[0x13])) & 0xFF)
	t[0x1A] = t[0x14] ^ t[0x17]
	t[0x1B] = byte((int(t[0x16]) + int(t[0x16])) & 0xFF)
	t[0x1C] = byte((int(t[0x17]) + 0x44) & 0xFF)
	t[0x1D] = byte((int(t[0x03]) + int(t[0x04])) & 0xFF)
	t[0x1E] = byte((int(t[0x05]) - int(t[0x16])) & 0xFF)
	t[0x1F] = byte((int(t[0x1D]) ^ int(t[0x13])) & 0xFF)

	t2 := []byte("URUC")
	vmask1 := make([]byte, 0x20)
	vmask2 := make([]byte, 0x20)
	amask := make([]byte, 0x20)

	for i, ti := range t {
		vmask1[i] = ti
		vmask2[i] = ti ^ 0xFF
		if i&1 != 0 {
			amask[i] = t2[(i>>1)&3]
		} else {
			amask[i] = ti ^ 0xFF
		}
	}

	return [][]byte{vmask1, vmask2}, amask
}

// unmaskVideo works on a copy; payloads alias the source buffer.
func unmaskVideo(payload []byte, vmask [][]byte) []byte {
	out := bytes.Clone(payload)
	const base = 0x40
	size := len(out) - base
	if size < 0x200 {
		return out
	}
	mask := make([]byte, 0x20)
	copy(mask, vmask[1])
	for i := 0x100; i < size; i++ {
		out[base+i] ^= mask[i&0x1F]
		mask[i&0x1F] = out[base+i] ^ vmask[1][i&0x1F]
	}
	copy(mask, vmask[0])
	for i := 0; i < 0x100; i++ {
		mask[i&0x1F] ^= out[0x100+base+i]
		out[base+i] ^= mask[i&0x1F]
	}
	return out
}

func unmaskAudio(payload []byte, amask []byte) []byte {
	out := bytes.Clone(payload)
	const base = 0x140
	for i := 0; i < len(out)-base; i++ {
		out[base+i] ^= amask[i&0x1F]
	}
	return out
}
