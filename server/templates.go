/*
 * Copyright 2020 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package server

import (
	"html/template"
)

type confirmPageData struct {
	Action     string
	Token      string
	ClientName string
}

var confirmPage = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign out</title>
</head>
<body>
<form method="post" action="{{.Action}}">
<p>{{if .ClientName}}{{.ClientName}} wants to sign you out.{{else}}Do you want to sign out?{{end}}</p>
<input type="hidden" name="sjwt" value="{{.Token}}">
<label><input type="checkbox" name="logout_all" value="true"> Sign out of all applications</label>
<button type="submit">Sign out</button>
</form>
</body>
</html>
`))

type loggedOutPageData struct {
	Iframes        []template.HTML
	RedirectTarget string
}

var loggedOutPage = template.Must(template.New("loggedout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Signed out</title>
{{if .RedirectTarget}}<meta http-equiv="refresh" content="2;url={{.RedirectTarget}}">{{end}}
<style>iframe { display: none; }</style>
</head>
<body>
<p>You have been signed out.</p>
{{range .Iframes}}{{.}}</iframe>
{{end}}
{{if .RedirectTarget}}<p><a href="{{.RedirectTarget}}">Continue</a></p>{{end}}
</body>
</html>
`))
