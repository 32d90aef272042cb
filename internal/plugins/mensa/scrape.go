package mensa

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Menu is one dish of the day.
type Menu struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Desc  string `json:"desc"`
}

// parseMenus reads today's menus from the cafeteria page. Today's panel is
// the first "panel panel-default" div inside the element with id panelID.
func parseMenus(r io.Reader, panelID string) ([]Menu, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse menu page: %w", err)
	}
	container := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && attr(n, "id") == panelID
	})
	if container == nil {
		return nil, fmt.Errorf("menu container #%s not found", panelID)
	}
	var panel *html.Node
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if c.DataAtom == atom.Div && attr(c, "class") == "panel panel-default" {
			panel = c
			break
		}
	}
	if panel == nil {
		return nil, fmt.Errorf("no menu panel in #%s", panelID)
	}

	var menus []Menu
	for _, tr := range findAll(panel, isAtom(atom.Tr)) {
		tds := findAll(tr, isAtom(atom.Td))
		if len(tds) < 2 {
			continue
		}
		name := find(tds[0], func(n *html.Node) bool {
			return n.DataAtom == atom.Strong && attr(n, "class") == "menu_name"
		})
		desc := find(tds[0], isAtom(atom.P))
		price := find(tds[1], isAtom(atom.Strong))
		if name == nil || desc == nil || price == nil {
			continue
		}
		menus = append(menus, Menu{
			Name:  strings.TrimSpace(text(name)),
			Price: strings.TrimSpace(text(price)),
			Desc:  strings.TrimSpace(text(desc)),
		})
	}
	return menus, nil
}

func isAtom(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// find returns the first descendant of n matching match, depth first.
func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, match)...)
	}
	return out
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
