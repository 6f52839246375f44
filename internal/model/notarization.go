package model

import (
	"strings"
	"time"
)

// NotarizationStatus is the lifecycle state of a notarization record.
type NotarizationStatus string

// Notarization statuses.
const (
	NotarizationPending   NotarizationStatus = "pending"
	NotarizationCompleted NotarizationStatus = "completed"
	NotarizationFailed    NotarizationStatus = "failed"
)

// SignatureUnsigned is reported while no content-credential signer is configured.
const SignatureUnsigned = "unsigned"

// IsValid reports whether s is a known status.
func (s NotarizationStatus) IsValid() bool {
	switch s {
	case NotarizationPending, NotarizationCompleted, NotarizationFailed:
		return true
	}
	return false
}

// Notarization is the immutable record of one notarization attempt.
type Notarization struct {
	ID               string             `json:"id"`
	UserID           int64              `json:"user_id"`
	OriginalFilename string             `json:"original_filename"`
	FileType         string             `json:"file_type"`
	FileSize         int64              `json:"file_size"`
	SHA256Hash       string             `json:"sha256_hash"`
	IPFSCID          string             `json:"ipfs_cid"`
	AnchorRef        string             `json:"anchor_ref"`
	SignatureStatus  string             `json:"signature_status"`
	Status           NotarizationStatus `json:"status"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// Evidence is the provenance bundle returned to API clients.
type Evidence struct {
	IPFSCID          string `json:"ipfs_cid"`
	IPFSURL          string `json:"ipfs_url"`
	SHA256Hash       string `json:"sha256_hash"`
	SolanaTx         string `json:"solana_tx"`
	C2PAVerification string `json:"c2pa_verification"`
}

// Evidence builds the client-facing proof for this record.
func (n *Notarization) Evidence(gatewayURL string) Evidence {
	ipfsURL := ""
	if n.IPFSCID != "" {
		ipfsURL = strings.TrimSuffix(gatewayURL, "/") + "/ipfs/" + n.IPFSCID
	}
	return Evidence{
		IPFSCID:          n.IPFSCID,
		IPFSURL:          ipfsURL,
		SHA256Hash:       n.SHA256Hash,
		SolanaTx:         n.AnchorRef,
		C2PAVerification: n.SignatureStatus,
	}
}

// NotarizeResponse is the success body of POST /notarize.
type NotarizeResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Evidence Evidence `json:"evidence"`
}
