package engine

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/taleweave/taleweave/internal/game"
)

// maxActionLength bounds raw action text. Anything longer is rejected
// before it reaches the generator.
const maxActionLength = 500

// inventoryKey is the state key consulted by item preconditions.
const inventoryKey = "inventory"

// itemVerbs are the action prefixes that require the named item to be in
// the session inventory.
var itemVerbs = []string{"use ", "drop ", "give "}

// validateAction runs the local preconditions for one action. Returns a
// player-facing reason when the action is rejected.
func validateAction(sess *game.Session, action string) (reason string, ok bool) {
	trimmed := strings.TrimSpace(action)
	if trimmed == "" {
		return "action is empty", false
	}
	if len(trimmed) > maxActionLength {
		return "action is too long", false
	}

	item, verb, needsItem := itemRequirement(trimmed)
	if !needsItem {
		return "", true
	}

	inventory, present := game.StringList(sess.State[inventoryKey])
	if !present {
		// No inventory in this campaign's state: nothing to check.
		return "", true
	}
	if !inventoryHolds(inventory, item) {
		return fmt.Sprintf("you cannot %s %q: it is not in the inventory", verb, item), false
	}
	return "", true
}

// itemRequirement extracts the item named by a use/drop/give action.
// For "give <item> to <target>" only the item part is checked.
func itemRequirement(action string) (item, verb string, ok bool) {
	lower := normalizeText(action)
	for _, prefix := range itemVerbs {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(lower, prefix))
		if verb = strings.TrimSpace(prefix); verb == "give" {
			if i := strings.Index(rest, " to "); i >= 0 {
				rest = strings.TrimSpace(rest[:i])
			}
		}
		if rest == "" {
			return "", "", false
		}
		return rest, verb, true
	}
	return "", "", false
}

// inventoryHolds reports whether the inventory contains the named item.
// Matching is case-insensitive on NFC-normalized text: an entry matches
// when it equals the item, starts with it, or contains it as a whole word,
// so "use torch" finds the entry "a rusty torch".
func inventoryHolds(inventory []string, item string) bool {
	item = normalizeText(item)
	for _, raw := range inventory {
		entry := normalizeText(raw)
		if entry == item || strings.HasPrefix(entry, item+" ") {
			return true
		}
		for _, word := range strings.Fields(entry) {
			if word == item {
				return true
			}
		}
		// Multi-word items match as a phrase anywhere in the entry.
		if strings.Contains(item, " ") && strings.Contains(entry, item) {
			return true
		}
	}
	return false
}

// normalizeText lowercases NFC-normalized text for matching.
func normalizeText(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
