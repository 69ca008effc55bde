package templates

// ReleaseSummaryTemplate renders RELEASE.md for a finished build
const ReleaseSummaryTemplate = `# <% .OSName %> <% .BuildNumber %>

| | |
|---|---|
| Tag | ` + "`<% .Tag %>`" + ` |
| Build ID | ` + "`<% .BuildID %>`" + ` |
| Android version | <% .OSVersion %> |
| Built at | <% .GeneratedAt.UTC.Format "2006-01-02 15:04 MST" %> |
| Builder | <% .Version %> |
| Run | ` + "`<% .RunID %>`" + ` |
<% range .Targets %>
## <% .Friendly %> (<% .Name %>)
<% if .Rooted %>
Includes an OTA update patched with Magisk.
<% end %>
| Artifact | Size | SHA-256 |
|---|---|---|
<% range .Artifacts %>| <% .Name %> | <% size .Size %> | ` + "`<% .SHA256 %>`" + ` |
<% end %><% end %><% if .Failed %>
## Failed targets
<% range .Failed %>
- <% . %><% end %>
<% end %>`
