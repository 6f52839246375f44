package basalt

import (
	"fmt"
	"strings"
)

// Evidence is the provenance proof returned for a notarized file.
type Evidence struct {
	IPFSCID    string `json:"ipfs_cid"`
	IPFSURL    string `json:"ipfs_url"`
	SHA256Hash string `json:"sha256_hash"`
	SolanaTx   string `json:"solana_tx"`
	// C2PAStatus is "unsigned" until the server signs content credentials.
	C2PAStatus string `json:"c2pa_verification"`
}

func (e Evidence) String() string {
	var b strings.Builder
	b.WriteString("=== BASALT EVIDENCE ===\n")
	fmt.Fprintf(&b, "[HASH]   : %s\n", e.SHA256Hash)
	fmt.Fprintf(&b, "[IPFS]   : %s\n", e.IPFSCID)
	fmt.Fprintf(&b, "[SOLANA] : %s\n", e.SolanaTx)
	fmt.Fprintf(&b, "[STATUS] : %s\n", e.C2PAStatus)
	b.WriteString("=======================")
	return b.String()
}
