// Package dbid enumerates the fixed, closed set of logical databases the
// governance core coordinates. It is a closed tagged set by design: variants
// carry no data, and the dependency list is declarative, not computed.
package dbid

// ID names one of the four logical databases in the reference system.
type ID string

const (
	// VFS is the virtual file index: indexed documents and folders.
	VFS ID = "vfs"
	// Mistakes holds spaced-repetition review items.
	Mistakes ID = "mistakes"
	// LLMUsage holds per-call LLM accounting records.
	LLMUsage ID = "llm_usage"
	// ChatV2 holds chat sessions; it references indexed files, so it
	// depends on VFS.
	ChatV2 ID = "chat_v2"
)

// All is the fixed dependency order, leaves first. The coordinator iterates
// this slice directly; it never computes a topological sort at runtime.
var All = []ID{VFS, Mistakes, LLMUsage, ChatV2}

// dependencies maps each database to the databases it requires to have
// already completed migration in the same run.
var dependencies = map[ID][]ID{
	VFS:      nil,
	Mistakes: nil,
	LLMUsage: nil,
	ChatV2:   {VFS},
}

// Dependencies returns the declared dependency list for id, leaves first.
func Dependencies(id ID) []ID {
	return dependencies[id]
}

// FileName returns the relative database file name within the data
// directory for id.
func FileName(id ID) string {
	switch id {
	case VFS:
		return "vfs.db"
	case Mistakes:
		return "mistakes.db"
	case LLMUsage:
		return "llm_usage.db"
	case ChatV2:
		return "chat_v2.db"
	default:
		return string(id) + ".db"
	}
}

func (id ID) String() string { return string(id) }
