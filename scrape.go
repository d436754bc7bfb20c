package main

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// GiftPageParser extracts pending gift blocks from the account's inventory
// page. Parsing is injected so the reconciliation logic never touches markup.
type GiftPageParser interface {
	ParseGifts(page io.Reader) ([]PendingGift, error)
}

// HTMLGiftPageParser reads the pending-gifts tab of the Steam inventory page.
// The layout it expects: gift blocks under div#tabcontent_pendinggifts, each
// a div.pending_gift with a script in its left column, the sender anchor in
// the first paragraph of its right column, and the first medium button of the
// gift controls carrying the accept handler in its onclick attribute.
type HTMLGiftPageParser struct{}

// ParseGifts extracts all pending gift blocks from the page
func (HTMLGiftPageParser) ParseGifts(page io.Reader) ([]PendingGift, error) {
	root, err := html.Parse(page)
	if err != nil {
		return nil, err
	}

	tab := findNode(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attrValue(n, "id") == "tabcontent_pendinggifts"
	})
	if tab == nil {
		return nil, nil
	}

	var gifts []PendingGift
	for _, block := range findNodes(tab, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, "pending_gift")
	}) {
		gifts = append(gifts, parseGiftBlock(block))
	}

	return gifts, nil
}

func parseGiftBlock(block *html.Node) PendingGift {
	var gift PendingGift

	if leftcol := findNode(block, classMatcher("pending_gift_leftcol")); leftcol != nil {
		if script := findNode(leftcol, elementMatcher("script")); script != nil {
			gift.JavaScript = nodeText(script)
		}
	}

	if rightcol := findNode(block, classMatcher("pending_gift_rightcol")); rightcol != nil {
		if p := findNode(rightcol, elementMatcher("p")); p != nil {
			if a := findNode(p, elementMatcher("a")); a != nil {
				gift.FromLink = attrValue(a, "href")
				gift.FromUsername = strings.TrimSpace(nodeText(a))
			}
		}

		if buttons := findNode(rightcol, classMatcher("gift_controls_buttons")); buttons != nil {
			if btn := findNode(buttons, classMatcher("btn_medium")); btn != nil {
				gift.AcceptButton = attrValue(btn, "onclick")
			}
		}
	}

	return gift
}

func elementMatcher(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func classMatcher(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, class)
	}
}

// findNode returns the first descendant (or the node itself) matching pred
func findNode(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}

	return nil
}

// findNodes returns every matching descendant, without descending into
// matches themselves
func findNodes(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node != n && pred(node) {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return out
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}
