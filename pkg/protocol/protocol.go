// Package protocol implements the byte-exact framing shared by the
// client→coordinator and coordinator→node links.
//
// Every message starts with a command string. Strings are a 2-byte
// big-endian length followed by modified UTF-8, integers are 8-byte signed
// big-endian, and payloads are raw bytes whose length comes from the
// preceding size field.
package protocol

import (
	"errors"
	"strings"
)

// Command names a request on the wire.
type Command string

// Client-facing commands.
const (
	CmdStore    Command = "ENVOYER"
	CmdRetrieve Command = "RECEVOIR"
	CmdList     Command = "LISTER"
	CmdDelete   Command = "SUPPRIMER"
)

// Node-facing commands.
const (
	CmdStoreFragment    Command = "STORE"
	CmdRetrieveFragment Command = "RETRIEVE"
)

// Response strings. Everything except StatusOK is a human-readable
// failure or informational message.
const (
	StatusOK             = "OK"
	StatusUnknownCommand = "COMMANDE INCONNUE"
	StatusNotFound       = "Fichier introuvable"
	StatusEmptyList      = "Aucun fichier trouvé."
	StatusDeleted        = "Fichier supprimé avec succès."
	StatusDeleteFailed   = "Erreur lors de la suppression du fichier."
	StatusStoreFailed    = "Echec du stockage du fichier"
	StatusRetrieveFailed = "Erreur lors de la récupération du fichier"
	StatusInvalidName    = "Nom de fichier invalide"
	StatusInvalidSize    = "Taille invalide"
)

// DefaultChunkSize is the transfer buffer size used when none is configured.
const DefaultChunkSize = 1024

// MaxStringLength is the largest encoded string the 2-byte prefix can carry.
const MaxStringLength = 0xFFFF

var (
	ErrStringTooLong    = errors.New("encoded string exceeds 65535 bytes")
	ErrMalformedString  = errors.New("malformed modified UTF-8 string")
	ErrInvalidSize      = errors.New("invalid payload size")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// ParseCommand normalizes a command string. Matching is case-insensitive.
func ParseCommand(s string) Command {
	return Command(strings.ToUpper(strings.TrimSpace(s)))
}

// IsClientCommand reports whether c is one of the four coordinator commands.
func (c Command) IsClientCommand() bool {
	switch c {
	case CmdStore, CmdRetrieve, CmdList, CmdDelete:
		return true
	}
	return false
}

// IsNodeCommand reports whether c is a storage node command.
func (c Command) IsNodeCommand() bool {
	return c == CmdStoreFragment || c == CmdRetrieveFragment
}

func (c Command) String() string {
	return string(c)
}
