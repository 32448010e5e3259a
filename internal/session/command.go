package session

import (
	"github.com/google/uuid"

	"github.com/mirulabs/dbmiru/internal/db"
)

// Token correlates a command with the events it produces. Tokens are chosen
// by the caller; NewToken is a convenience for the common case.
type Token string

// NewToken returns a fresh random token.
func NewToken() Token {
	return Token(uuid.NewString())
}

// CommandKind discriminates command variants.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdExecute
	CmdListSchemas
	CmdListTables
	CmdListColumns
	CmdPreview
	CmdDisconnect
	CmdCancel
)

func (k CommandKind) String() string {
	switch k {
	case CmdConnect:
		return "connect"
	case CmdExecute:
		return "execute"
	case CmdListSchemas:
		return "list schemas"
	case CmdListTables:
		return "list tables"
	case CmdListColumns:
		return "list columns"
	case CmdPreview:
		return "preview"
	case CmdDisconnect:
		return "disconnect"
	case CmdCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Command is one request against a session. Fields beyond Kind and Token are
// set per variant. Commands are processed strictly in submission order,
// except Cancel, which bypasses the queue and targets the in-flight command.
type Command struct {
	Kind  CommandKind
	Token Token

	// Connect
	Credential db.Credential

	// Execute
	SQL string

	// ListTables, ListColumns, Preview
	Schema string
	Table  string

	// Preview; zero means the configured default
	Limit int

	// Cancel: the token of the command to cancel
	Target Token
}

// Convenience constructors in the shape the collaborator layer submits.

func Connect(token Token, cred db.Credential) Command {
	return Command{Kind: CmdConnect, Token: token, Credential: cred}
}

func Execute(token Token, sql string) Command {
	return Command{Kind: CmdExecute, Token: token, SQL: sql}
}

func ListSchemas(token Token) Command {
	return Command{Kind: CmdListSchemas, Token: token}
}

func ListTables(token Token, schema string) Command {
	return Command{Kind: CmdListTables, Token: token, Schema: schema}
}

func ListColumns(token Token, schema, table string) Command {
	return Command{Kind: CmdListColumns, Token: token, Schema: schema, Table: table}
}

func Preview(token Token, schema, table string, limit int) Command {
	return Command{Kind: CmdPreview, Token: token, Schema: schema, Table: table, Limit: limit}
}

func Disconnect(token Token) Command {
	return Command{Kind: CmdDisconnect, Token: token}
}

func Cancel(token, target Token) Command {
	return Command{Kind: CmdCancel, Token: token, Target: target}
}
