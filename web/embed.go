package web

import "embed"

// Templates embeds HTML templates.
//
//go:embed templates/layouts/*.html templates/pages/*.html
var Templates embed.FS

// Static embeds stylesheets and the activity script.
//
//go:embed static/css/*.css static/js/*.js
var Static embed.FS
