package assets

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strconv"

	"github.com/tdewolff/minify/v2"
	htmlmin "github.com/tdewolff/minify/v2/html"
	"github.com/wolfeidau/assetpipe/internal/entry"
	"github.com/wolfeidau/assetpipe/internal/rules"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// documentData is available to the template as dot.
type documentData struct {
	Title      string
	MountID    string
	Mode       string
	PublicPath string
	Manifest   *Manifest
}

const devClientScript = `(function(){var p=location.protocol==="https:"?"wss://":"ws://";` +
	`var ws=new WebSocket(p+location.host+%s);` +
	`ws.onmessage=function(e){if(e.data==="reload"){location.reload();}};})();`

// renderDocument executes the entry template and injects the built script,
// stylesheets and image preloads.
func (p *Pipeline) renderDocument(e *entry.Entry, m *Manifest) ([]byte, error) {
	tmpl, err := htmltemplate.New(e.Name).Funcs(htmltemplate.FuncMap{
		"marshal": func(v any) (htmltemplate.JS, error) {
			b, err := json.Marshal(v)
			return htmltemplate.JS(b), err // #nosec G203 - json output
		},
	}).Parse(string(e.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, documentData{
		Title:      e.Title,
		MountID:    e.MountID,
		Mode:       string(p.config.Mode),
		PublicPath: p.config.Output.PublicPath,
		Manifest:   m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}

	doc, err := html.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered template: %w", err)
	}

	if entry.FindByID(doc, e.MountID) == nil {
		return nil, fmt.Errorf("%w: no element with id %q after rendering", entry.ErrMountNotFound, e.MountID)
	}

	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)

	if e.Title != "" && findElement(head, atom.Title) == nil {
		title := element(atom.Title)
		title.AppendChild(&html.Node{Type: html.TextNode, Data: e.Title})
		head.AppendChild(title)
	}

	for _, href := range m.Styles {
		head.AppendChild(element(atom.Link, "rel", "stylesheet", "href", href))
	}
	for _, img := range m.Images {
		head.AppendChild(element(atom.Link, "rel", "preload", "as", "image", "href", img.URL))
	}
	for _, src := range m.Scripts {
		head.AppendChild(element(atom.Script, "defer", "", "src", src))
	}

	if p.devClient != "" {
		script := element(atom.Script)
		script.AppendChild(&html.Node{Type: html.TextNode, Data: fmt.Sprintf(devClientScript, strconv.Quote(p.devClient))})
		body.AppendChild(script)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}

	if !p.config.Production() {
		return out.Bytes(), nil
	}

	mini := minify.New()
	mini.Add("text/html", &htmlmin.Minifier{KeepDocumentTags: true, KeepEndTags: true})
	minified, err := mini.Bytes("text/html", out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to minify document: %w", err)
	}
	return minified, nil
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// byClass filters assets down to those emitted by rules of one class.
func byClass(assets []*Asset, class rules.Class) []*Asset {
	out := []*Asset{}
	for _, a := range assets {
		if a.Class == class {
			out = append(out, a)
		}
	}
	return out
}
