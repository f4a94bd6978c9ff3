package mcpserver

// PostModelContract describes the display models returned by the tools.
const PostModelContract = `# spacetraveling Post Model

Posts come from the content repository and are normalized before they are
shown. Tools return these shapes as JSON.

## Listing item (list_posts)

` + "```" + `json
{
  "uid": "como-utilizar-hooks",
  "first_publication_date": "15 Mar 2021",
  "title": "Como utilizar Hooks",
  "subtitle": "Pensando em sincronização em vez de ciclos de vida",
  "author": "Joseph Oliveira"
}
` + "```" + `

- ` + "`" + `uid` + "`" + ` is the slug of the detail page (` + "`" + `/post/<uid>` + "`" + `).
- ` + "`" + `first_publication_date` + "`" + ` is formatted for pt-BR ("dd Mmm yyyy") or null.
- ` + "`" + `next_cursor` + "`" + ` in the list_posts result continues the listing; it is
  absent on the last page.

## Detail (get_post)

` + "```" + `json
{
  "state": "ready",
  "post": {
    "uid": "como-utilizar-hooks",
    "first_publication_date": "15 Mar 2021",
    "last_publication_date": "25 Mar 2021",
    "title": "Como utilizar Hooks",
    "banner_url": "https://images.prismic.io/...",
    "author": "Joseph Oliveira",
    "reading_minutes": 4,
    "content": [{"heading": "Proin et varius", "body": [{"type": "paragraph", "text": "...", "spans": []}]}]
  }
}
` + "```" + `

## States

1. **ready**: ` + "`" + `post` + "`" + ` is present.
2. **rendering**: the page is still being generated; call get_post again.
3. **not_found**: the repository has no published post with that uid.
4. **failed**: the repository could not be reached; retrying may succeed.

` + "`" + `last_publication_date` + "`" + ` is omitted when the post was never edited.
`
