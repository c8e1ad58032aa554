package e2ee

// DisplayKind distinguishes the four outcomes of preparing a message for
// display, so callers cannot confuse "no encryption needed" with
// "decryption failed".
type DisplayKind int

const (
	// KindNotEncrypted means the content is plaintext and shown verbatim.
	KindNotEncrypted DisplayKind = iota
	// KindDecrypted means the content was ciphertext and decrypted.
	KindDecrypted
	// KindUnsent means the sender retracted the message.
	KindUnsent
	// KindDecryptionFailed means the ciphertext could not be opened.
	KindDecryptionFailed
)

const (
	unsentPlaceholder        = "Message deleted"
	undecryptablePlaceholder = "[Unable to decrypt message]"
)

type DisplayResult struct {
	Kind DisplayKind
	text string
}

// Text returns the string to render, mapping the placeholder kinds to their
// fixed strings.
func (r DisplayResult) Text() string {
	switch r.Kind {
	case KindUnsent:
		return unsentPlaceholder
	case KindDecryptionFailed:
		return undecryptablePlaceholder
	default:
		return r.text
	}
}
