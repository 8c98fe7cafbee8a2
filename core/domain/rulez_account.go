package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Account
// =============================================================================

// Folder roles every account maps to concrete IMAP folder names.
const (
	FolderInbox       = "inbox"
	FolderProcessed   = "processed"
	FolderPending     = "pending"
	FolderJunk        = "junk"
	FolderApprovedAds = "approved_ads"
	FolderHeadHunt    = "headhunt"
	FolderWhitelist   = "whitelist"
	FolderBlacklist   = "blacklist"
	FolderVendor      = "vendor"
	FolderHeadhunter  = "headhunter"
	FolderTrash       = "trash"
)

// DefaultFolders returns the standard folder mapping for a new account.
func DefaultFolders() map[string]string {
	return map[string]string{
		FolderInbox:       "INBOX",
		FolderProcessed:   "INBOX.Processed",
		FolderPending:     "INBOX.Pending",
		FolderJunk:        "INBOX.Junk",
		FolderApprovedAds: "INBOX.Approved_Ads",
		FolderHeadHunt:    "INBOX.HeadHunt",
		FolderWhitelist:   "INBOX._whitelist",
		FolderBlacklist:   "INBOX._blacklist",
		FolderVendor:      "INBOX._vendor",
		FolderHeadhunter:  "INBOX._headhunter",
	}
}

// Account holds the connection settings for one IMAP account.
// Password is carried by value and must never be logged.
type Account struct {
	Name        string            `json:"name"`
	Server      string            `json:"server"`
	Port        int               `json:"port"`
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	Folders     map[string]string `json:"folders"`
	UseSSL      bool              `json:"use_ssl"`
	UseStartTLS bool              `json:"use_starttls"`
}

// EnvAccountName is the reserved name for the account synthesized from
// MAIL_RULEZ_SERVER / MAIL_RULEZ_EMAIL / MAIL_RULEZ_PASSWORD.
const EnvAccountName = "env_account"

// Folder resolves a folder role to the account's concrete folder name,
// falling back to the defaults for unset roles.
func (a *Account) Folder(role string) string {
	if a.Folders != nil {
		if name, ok := a.Folders[role]; ok && name != "" {
			return name
		}
	}
	return DefaultFolders()[role]
}

// IsGmail reports whether the account is hosted on Gmail.
func (a *Account) IsGmail() bool {
	addr := strings.ToLower(a.Email)
	return strings.HasSuffix(addr, "@gmail.com") || strings.HasSuffix(addr, "@googlemail.com")
}

// =============================================================================
// Message metadata
// =============================================================================

// MessageMeta is the header-level view of a message used for classification.
// Bodies are never fetched and messages are never marked seen.
type MessageMeta struct {
	UID     uint32    `json:"uid"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Folder  string    `json:"folder"`
}

// SenderAddress returns the bare lowercase address, stripping any
// display-name angle-bracket form.
func (m *MessageMeta) SenderAddress() string {
	return NormalizeAddress(m.Sender)
}

// NormalizeAddress lowercases an address and strips "Name <addr>" wrapping.
func NormalizeAddress(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = s[i+1:]
		if j := strings.Index(s, ">"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// AddressDomain returns the part after the last '@', with any trailing '>'
// stripped, lowercased. Empty when the sender has no domain.
func AddressDomain(sender string) string {
	s := strings.TrimSpace(sender)
	i := strings.LastIndex(s, "@")
	if i < 0 || i == len(s)-1 {
		return ""
	}
	d := strings.TrimSuffix(s[i+1:], ">")
	return strings.ToLower(strings.TrimSpace(d))
}
