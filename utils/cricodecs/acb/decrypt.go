package acb

import (
	"crypto/md5"
	"errors"
	"fmt"
	"os"

	"haruki-cri-audio/utils/cricodecs/afs2"
	"haruki-cri-audio/utils/cricodecs/hca"
)

// DecryptArchive rewrites every HCA entry of a as target and clears the archive key.
// Entries that are not HCA are left alone.
func DecryptArchive(a *afs2.Archive, key uint64, target hca.CipherType) error {
	for i, entry := range a.Entries {
		if !hca.IsHCA(entry) {
			logger.Warnf("AWB entry %d is not HCA, left as is", i)
			continue
		}
		if err := hca.DecryptInPlace(entry, key, a.Key, target); err != nil {
			return fmt.Errorf("failed to decrypt AWB entry %d: %w", i, err)
		}
	}
	a.ClearKey()
	return nil
}

// Decrypt decrypts the memory and stream archives in place. Stream hashes and
// copied AFS2 headers inside the ACB are updated to match the rewritten archives.
func (c *Container) Decrypt(key uint64, target hca.CipherType) error {
	if c.MemoryAudio != nil {
		if err := DecryptArchive(c.MemoryAudio, key, target); err != nil {
			return fmt.Errorf("memory AWB: %w", err)
		}
	}
	for i, a := range c.StreamAudio {
		if a == nil {
			continue
		}
		if err := DecryptArchive(a, key, target); err != nil {
			return fmt.Errorf("stream AWB %s: %w", c.StreamPaths[i], err)
		}
		sum := md5.Sum(a.Raw)
		if hash := c.StreamAwbHashTable.Row(i).Bytes("Hash"); len(hash) > 0 {
			copy(hash, sum[:])
		}
		if header := c.StreamAwbAfs2HeaderTable.Row(i).Bytes("Header"); len(header) > 0 {
			copy(header, a.Raw)
		}
	}
	// slots may hold ciphered entries
	clear(c.slots)
	return nil
}

// Save writes the ACB and its stream archives back to where they were loaded from.
func (c *Container) Save() error {
	if c.Path == "" {
		return errors.New("container was not loaded from a file")
	}
	for i, a := range c.StreamAudio {
		if a == nil {
			continue
		}
		if err := os.WriteFile(c.StreamPaths[i], a.Raw, 0644); err != nil {
			return fmt.Errorf("failed to write stream AWB: %w", err)
		}
	}
	if err := os.WriteFile(c.Path, c.Raw, 0644); err != nil {
		return fmt.Errorf("failed to write ACB: %w", err)
	}
	return nil
}
