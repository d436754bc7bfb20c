package main

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	// "View in store" action links carry the catalog type and id
	storeLinkRegex = regexp.MustCompile(`https?://store\.steampowered\.com/(.*?)/([0-9]+)/`)

	// The pending-gifts page embeds the gift metadata as the second argument
	// of a BuildHover call inside a script block
	buildHoverRegex = regexp.MustCompile(`(?s)BuildHover\( .*, ({.*}), .*\)`)

	// Sender identity is the numeric tail of the profile link
	profileLinkRegex = regexp.MustCompile(`https?://steamcommunity\.com/profiles/([0-9]+)`)
)

// parseStoreLink extracts (type, id) from a "View in store" action link
func parseStoreLink(link string) (ItemInfo, bool) {
	matches := storeLinkRegex.FindStringSubmatch(link)
	if len(matches) != 3 {
		return ItemInfo{}, false
	}

	return ItemInfo{Type: matches[1], ID: matches[2]}, true
}

// rawGiftObject matches the hover blob's wire shape; the id is numeric there
type rawGiftObject struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// parseGiftHover recovers the structured gift object from the script text of
// a pending gift block
func parseGiftHover(script string) (*GiftObject, error) {
	matches := buildHoverRegex.FindStringSubmatch(script)
	if len(matches) != 2 {
		return nil, fmt.Errorf("no BuildHover object in gift script")
	}

	var raw rawGiftObject
	if err := json.Unmarshal([]byte(matches[1]), &raw); err != nil {
		return nil, fmt.Errorf("parsing gift object: %w", err)
	}

	return &GiftObject{ID: raw.ID.String(), Name: raw.Name}, nil
}

// parseSenderSteamID extracts the sender's numeric identity from the gift
// block's profile link
func parseSenderSteamID(fromLink string) (string, bool) {
	matches := profileLinkRegex.FindStringSubmatch(fromLink)
	if len(matches) != 2 {
		return "", false
	}

	return matches[1], true
}

// specialEmail builds the deterministic fallback delivery address encoding
// the relation and request: entregas+{relationId}{relationType}{requestId}@domain
func specialEmail(domain, relationType string, relationID, requestID int64) string {
	return fmt.Sprintf("entregas+%d%s%d@%s", relationID, relationType, requestID, domain)
}
