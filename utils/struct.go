package utils

import "fmt"

type HarukiCRICommand string

const (
	CommandACB2HCAs   HarukiCRICommand = "acb2hcas"
	CommandACB2WAVs   HarukiCRICommand = "acb2wavs"
	CommandAWB2HCAs   HarukiCRICommand = "awb2hcas"
	CommandAWB2WAVs   HarukiCRICommand = "awb2wavs"
	CommandHCA2WAV    HarukiCRICommand = "hca2wav"
	CommandViewUTF    HarukiCRICommand = "view_utf"
	CommandDecryptACB HarukiCRICommand = "decrypt_acb"
	CommandDecryptAWB HarukiCRICommand = "decrypt_awb"
	CommandDecryptHCA HarukiCRICommand = "decrypt_hca"
	CommandACBMix     HarukiCRICommand = "acb_mix"
	CommandExtractCPK HarukiCRICommand = "extract_cpk"
	CommandExtractUSM HarukiCRICommand = "extract_usm"
)

var AllCommands = []HarukiCRICommand{
	CommandACB2HCAs, CommandACB2WAVs, CommandAWB2HCAs, CommandAWB2WAVs,
	CommandHCA2WAV, CommandViewUTF, CommandDecryptACB, CommandDecryptAWB,
	CommandDecryptHCA, CommandACBMix, CommandExtractCPK, CommandExtractUSM,
}

func ParseCommand(s string) (HarukiCRICommand, error) {
	for _, c := range AllCommands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid command: %s", s)
}

// InputExtension is the file extension a command collects when walking directories.
// An empty string accepts every file.
func (c HarukiCRICommand) InputExtension() string {
	switch c {
	case CommandACB2HCAs, CommandACB2WAVs, CommandDecryptACB, CommandACBMix:
		return ".acb"
	case CommandAWB2HCAs, CommandAWB2WAVs, CommandDecryptAWB:
		return ".awb"
	case CommandHCA2WAV, CommandDecryptHCA:
		return ".hca"
	case CommandExtractCPK:
		return ".cpk"
	case CommandExtractUSM:
		return ".usm"
	}
	return ""
}
