package risk

import "github.com/alanyoungcy/tradeledger/internal/domain"

// Grouper assigns symbols to correlation groups for the per-group position
// limit.
type Grouper interface {
	Group(symbol string) string
}

// StaticGroups maps symbol to group name. Symbols without an entry form a
// group of their own.
type StaticGroups map[string]string

// NewStaticGroups inverts a group → symbols table.
func NewStaticGroups(groups map[string][]string) StaticGroups {
	out := make(StaticGroups)
	for group, symbols := range groups {
		for _, s := range symbols {
			out[domain.NormalizeSymbol(s)] = group
		}
	}
	return out
}

// Group returns the group of symbol.
func (g StaticGroups) Group(symbol string) string {
	symbol = domain.NormalizeSymbol(symbol)
	if group, ok := g[symbol]; ok {
		return group
	}
	return symbol
}
