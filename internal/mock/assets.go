package mock

import "net/http"

const loginPage = `<!DOCTYPE html><html><head><title>FRITZ!Box</title></head><body><form id="loginForm"></form></body></html>`

const demoIndex = `<!DOCTYPE html>
<html>
<head>
<link rel="stylesheet" type="text/css" href="/css/box.css"/>
<link rel="stylesheet" type="text/css" href="/net/mesh_overview.css"/>
<script src="/js/jsl.js"></script>
<script>
const images = {mesh:"/css/images/mesh.svg", repeater:"/css/images/repeater.svg"};
jsl.loadCss("/components/PageTabs/style.css");
const config = {logoutWarning:true, start:"/start"};
</script>
</head>
<body>
<div id="blueBarBox"></div>
<div class="menuArea"></div>
<script src="/net/mesh_overview.js"></script>
</body>
</html>
`

const demoBoxCSS = `:root {
  --page-tabs-height-min-l: 48px;
  --page-tabs-height-max-m: 40px;
  --height-header-top: 64px;
  --height-header-top-small: 48px;
  --width-nav-left: 240px;
  --height-breadcrumbs: 32px;
}
#blueBarBox { z-index: 10; background: url(/css/images/bluebar.png); }
.header {}
.menuArea { padding: 8px; }
@import "/css/fonts.css";
`

const demoPageTabsCSS = `.page-tabs--visible { display: flex; }
`

const demoMeshCSS = `@media only screen and (max-width: 800px) { .mesh { width: 100%; } }
.mesh { background:url('/css/images/grid.png'); }
`

const demoMeshJS = `import { render } from "/js/render.js";
const blocks = [buildGraph(data), buildIntro(data), buildMeshablesInfo(data), buildTable(data), buildUpdateButton(data)];
function refresh() { return ajaxPost("/data.lua", {xhrId: "refresh"}); }
const src = {icon: 1, src:"/css/images/node.svg"};
`

var demoAssets = map[string]Asset{
	"/": {Status: http.StatusOK, ContentType: "text/html; charset=utf-8", Body: demoIndex},
	"/css/box.css": {Status: http.StatusOK, ContentType: "text/css", Body: demoBoxCSS},
	"/components/PageTabs/style.css": {Status: http.StatusOK, ContentType: "text/css", Body: demoPageTabsCSS},
	"/net/mesh_overview.css": {Status: http.StatusOK, ContentType: "text/css", Body: demoMeshCSS},
	"/net/mesh_overview.js": {Status: http.StatusOK, ContentType: "application/javascript;charset=utf-8", Body: demoMeshJS},
	"/js/jsl.js": {Status: http.StatusOK, ContentType: "application/javascript;charset=utf-8", Body: `var jsl = {loadCss: function(p) {}};`},
	"/js/render.js": {Status: http.StatusOK, ContentType: "application/javascript;charset=utf-8", Body: `export function render() {}`},
	"/css/fonts.css": {Status: http.StatusOK, ContentType: "text/css", Body: `body { font-family: sans-serif; }`},
	"/css/images/mesh.svg": {Status: http.StatusOK, ContentType: "image/svg+xml", Body: `<svg xmlns="http://www.w3.org/2000/svg"/>`},
	"/css/images/repeater.svg": {Status: http.StatusOK, ContentType: "image/svg+xml", Body: `<svg xmlns="http://www.w3.org/2000/svg"/>`},
	"/css/images/node.svg": {Status: http.StatusOK, ContentType: "image/svg+xml", Body: `<svg xmlns="http://www.w3.org/2000/svg"/>`},
}
