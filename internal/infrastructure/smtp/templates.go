package smtp

import "html/template"

const proposalVoteHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a1a;">
  <h2>{{.title}}</h2>
  <p>{{.content}}</p>
  {{if .VoteContent}}<p style="padding: 12px; background: #f4f4f7;">{{.VoteContent}}</p>{{end}}
  {{if .endContent}}<p>{{.endContent}}</p>{{end}}
</body>
</html>`

var builtinTemplates = map[string]*template.Template{
	"proposalVote": template.Must(template.New("proposalVote").Option("missingkey=zero").Parse(proposalVoteHTML)),
}
