// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import "html/template"

var pageTemplates = template.Must(template.New("pages").Parse(`
{{- define "neuron" -}}
<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - Layer {{.Layer}} Neuron {{.Neuron}}</title>
<link rel="stylesheet" href="../static/style.css">
</head>
<body data-layer="{{.Layer}}" data-neuron="{{.Neuron}}" data-manifest="{{.Manifest}}">
<a href="../index.html">Back to index</a>
<h1>{{.Title}} - Layer {{.Layer}} Neuron {{.Neuron}}</h1>
<nav class="ns-nav">
{{- range .Nav}}
<a href="{{.Href}}"{{with .Rel}} rel="{{.}}"{{end}}>{{.Label}}</a>
{{- end}}
</nav>
{{- with .Rank}}
<p class="ns-rank">Rank {{.}}</p>
{{- end}}
<main>
{{.Body}}
</main>
<script src="../static/viewer.js"></script>
</body>
</html>
{{end -}}

{{- define "index" -}}
<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<link rel="stylesheet" href="static/style.css">
</head>
<body data-manifest="{{.Manifest}}">
<h1>{{.Title}}</h1>
{{- with .Body}}
<main>
{{.}}
</main>
{{- end}}
{{- range .Layers}}
<section class="ns-layer" id="L{{.Index}}">
<h2>Layer {{.Index}}</h2>
<ol class="ns-neurons" start="0">
{{- range .Neurons}}
<li><a href="{{.Href}}">N{{.Neuron}}</a>{{with .Value}} <span class="ns-value">{{.}}</span>{{end}}</li>
{{- end}}
</ol>
</section>
{{- end}}
<script src="static/viewer.js"></script>
</body>
</html>
{{end -}}
`))
