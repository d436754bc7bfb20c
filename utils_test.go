package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreLinkSub(t *testing.T) {
	info, ok := parseStoreLink("https://store.steampowered.com/sub/9001/")
	require.True(t, ok)
	assert.Equal(t, ItemInfo{Type: "sub", ID: "9001"}, info)
}

func TestParseStoreLinkApp(t *testing.T) {
	info, ok := parseStoreLink("http://store.steampowered.com/app/440/")
	require.True(t, ok)
	assert.Equal(t, ItemInfo{Type: "app", ID: "440"}, info)
}

func TestParseStoreLinkRejectsForeignHost(t *testing.T) {
	_, ok := parseStoreLink("https://example.com/sub/9001/")
	assert.False(t, ok)
}

func TestParseStoreLinkRejectsMissingID(t *testing.T) {
	_, ok := parseStoreLink("https://store.steampowered.com/news/")
	assert.False(t, ok)
}

func TestParseGiftHover(t *testing.T) {
	script := `BuildHover( 'pending_gift_123456', {"id": 123456, "name": "Gift Game"}, 'gift' );`

	gift, err := parseGiftHover(script)
	require.NoError(t, err)
	assert.Equal(t, "123456", gift.ID)
	assert.Equal(t, "Gift Game", gift.Name)
}

func TestParseGiftHoverMultiline(t *testing.T) {
	script := "var data = 1;\nBuildHover( 'pending_gift_77', {\"id\": 77,\n\"name\": \"Split Gift\"}, 'gift' );\n"

	gift, err := parseGiftHover(script)
	require.NoError(t, err)
	assert.Equal(t, "77", gift.ID)
	assert.Equal(t, "Split Gift", gift.Name)
}

func TestParseGiftHoverNoMatch(t *testing.T) {
	_, err := parseGiftHover("var unrelated = true;")
	assert.Error(t, err)
}

func TestParseGiftHoverBadJSON(t *testing.T) {
	_, err := parseGiftHover(`BuildHover( 'x', {not json}, 'gift' );`)
	assert.Error(t, err)
}

func TestParseSenderSteamID(t *testing.T) {
	steamID, ok := parseSenderSteamID("https://steamcommunity.com/profiles/76561198000000001")
	require.True(t, ok)
	assert.Equal(t, "76561198000000001", steamID)
}

func TestParseSenderSteamIDVanityLink(t *testing.T) {
	_, ok := parseSenderSteamID("https://steamcommunity.com/id/somevanityname")
	assert.False(t, ok)
}

func TestSpecialEmail(t *testing.T) {
	email := specialEmail("extremegaming-arg.com.ar", "C", 5, 10)
	assert.Equal(t, "entregas+5C10@extremegaming-arg.com.ar", email)

	email = specialEmail("test.local", "A", 42, 7)
	assert.Equal(t, "entregas+42A7@test.local", email)
}

func TestCatalogSubIDPrefersStoreSubID(t *testing.T) {
	product := Product{AppID: "440", StoreSubID: "9001", SubID: "1234"}

	subID, ok := product.CatalogSubID()
	require.True(t, ok)
	assert.Equal(t, "9001", subID)
}

func TestCatalogSubIDFallsBackToSubID(t *testing.T) {
	product := Product{SubID: "1234"}

	subID, ok := product.CatalogSubID()
	require.True(t, ok)
	assert.Equal(t, "1234", subID)
}

func TestCatalogSubIDIgnoresStoreSubIDWithoutAppID(t *testing.T) {
	product := Product{StoreSubID: "9001"}

	_, ok := product.CatalogSubID()
	assert.False(t, ok)
}

func TestCatalogSubIDEmptyProduct(t *testing.T) {
	_, ok := (&Product{}).CatalogSubID()
	assert.False(t, ok)
}
