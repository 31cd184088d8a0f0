package api

import (
	"html/template"
	"log/slog"
	"net/http"
)

// cardPage is the reference surface. It renders the card pushed over the
// bridge and reports button presses back.
var cardPage = template.Must(template.New("card").Parse(`<!DOCTYPE html>
<html lang="it">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { margin: 0; font-family: sans-serif; background: transparent; }
#card { display: none; width: fit-content; margin: 8px auto; padding: 12px 16px;
        border-radius: 12px; background: #fff; box-shadow: 0 2px 12px rgba(0,0,0,.25); }
#number { font-size: 1.4em; margin-bottom: 8px; }
button { margin: 2px; padding: 8px 12px; border: 0; border-radius: 8px; }
button[data-action=WHATSAPP] { background: #25d366; color: #fff; }
button[data-action=ANSWER] { background: #2e7d32; color: #fff; }
button[data-action=REJECT] { background: #c62828; color: #fff; }
</style>
</head>
<body data-ws="{{.WSPath}}">
<div id="card">
  <div id="number"></div>
  <button data-action="WHATSAPP">WhatsApp</button>
  <button data-action="ANSWER">Rispondi</button>
  <button data-action="REJECT">Rifiuta</button>
  <button data-action="CLOSE">&times;</button>
</div>
<script>
(function () {
  var card = document.getElementById("card");
  var number = document.getElementById("number");
  var generation = 0;
  var ws;

  function send(msg) {
    msg.generation = generation;
    if (ws && ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(msg));
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    ws = new WebSocket(proto + location.host + document.body.dataset.ws);
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      switch (msg.type) {
      case "show":
        generation = msg.generation;
        number.textContent = msg.card && msg.card.number ? msg.card.number : "";
        card.style.display = "block";
        send({type: "ready"});
        break;
      case "setPhoneNumber":
        if (msg.generation === generation) number.textContent = msg.number || "";
        break;
      case "hide":
        card.style.display = "none";
        number.textContent = "";
        break;
      case "open":
        if (msg.url) window.open(msg.url, "_blank", "noopener");
        break;
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }

  card.addEventListener("click", function (ev) {
    var a = ev.target.getAttribute("data-action");
    if (a) send({type: "performAction", action: a});
  });

  connect();
})();
</script>
</body>
</html>
`))

type cardPageData struct {
	Title  string
	WSPath string
}

// ServeCard renders the reference card surface
func ServeCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := cardPage.Execute(w, cardPageData{Title: "PRONTO", WSPath: "/bridge/ws"}); err != nil {
		slog.Error("Failed to render card page", "error", err)
	}
}
