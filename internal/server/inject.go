package server

import (
	"bytes"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// clientScript reconnects after server restarts, swaps stylesheets in place
// when only CSS changed, and reloads the page otherwise.
const clientScript = `(function () {
  var delay = 500;
  function refreshStyles() {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      var url = new URL(links[i].href);
      url.searchParams.set('livereload', Date.now());
      links[i].href = url.toString();
    }
  }
  function connect() {
    var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    var ws = new WebSocket(proto + location.host + '%s');
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (ev) {
      var msg;
      try { msg = JSON.parse(ev.data); } catch (e) { return; }
      if (msg.type !== 'reload') { return; }
      var paths = msg.paths || [];
      var cssOnly = paths.length > 0 && paths.every(function (p) { return /\.css$/.test(p); });
      if (cssOnly) { refreshStyles(); } else { location.reload(); }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 5000);
    };
  }
  connect();
})();
`

// injectScript adds a script tag loading src at the end of the document
// body. Documents that cannot be parsed are returned unchanged.
func injectScript(page []byte, src string) []byte {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return page
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		return page
	}

	script := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr:     []html.Attribute{{Key: "src", Val: src}},
	}
	body.AppendChild(script)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return page
	}
	return buf.Bytes()
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
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
