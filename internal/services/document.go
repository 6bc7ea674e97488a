package services

import (
  "archive/zip"
  "bytes"
  "encoding/xml"
  "io"
  "strings"

  "github.com/ledongthuc/pdf"
  "github.com/yuin/goldmark"
  "github.com/yuin/goldmark/ast"
  "github.com/yuin/goldmark/text"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
)

// Supported document MIME types for the attachment pipeline.
const (
  mimePDF      = "application/pdf"
  mimePlain    = "text/plain"
  mimeMarkdown = "text/markdown"
  mimeDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// ExtractDocumentText pulls plain text out of an attached document. It fails
// with an unsupported-document error for unknown MIME types and an
// empty-document error when nothing extractable remains.
func ExtractDocumentText(documentBytes []byte, mimeType string) (string, error) {
  var (
    extracted string
    err       error
  )
  switch normalizeMime(mimeType) {
  case mimePDF:
    extracted, err = extractPDFText(documentBytes)
  case mimePlain:
    extracted = string(documentBytes)
  case mimeMarkdown:
    extracted, err = extractMarkdownText(documentBytes)
  case mimeDocx:
    extracted, err = extractDocxText(documentBytes)
  default:
    return "", apperr.New(apperr.KindUnsupportedDocument, "unsupported document type: "+mimeType)
  }
  if err != nil {
    return "", err
  }
  extracted = strings.TrimSpace(extracted)
  if extracted == "" {
    return "", apperr.New(apperr.KindEmptyDocument, "no extractable text in document")
  }
  return extracted, nil
}

func normalizeMime(mimeType string) string {
  // strip parameters like "; charset=utf-8"
  if i := strings.Index(mimeType, ";"); i >= 0 {
    mimeType = mimeType[:i]
  }
  return strings.ToLower(strings.TrimSpace(mimeType))
}

func extractPDFText(documentBytes []byte) (string, error) {
  reader, err := pdf.NewReader(bytes.NewReader(documentBytes), int64(len(documentBytes)))
  if err != nil {
    return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to parse PDF", err)
  }
  var b strings.Builder
  for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
    page := reader.Page(pageNum)
    if page.V.IsNull() {
      continue
    }
    content, err := page.GetPlainText(nil)
    if err != nil {
      continue
    }
    b.WriteString(content)
    b.WriteString("\n")
  }
  return b.String(), nil
}

func extractMarkdownText(documentBytes []byte) (string, error) {
  md := goldmark.New()
  root := md.Parser().Parse(text.NewReader(documentBytes))
  var b strings.Builder
  err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
    if !entering {
      return ast.WalkContinue, nil
    }
    switch node := n.(type) {
    case *ast.Text:
      b.Write(node.Segment.Value(documentBytes))
      if node.SoftLineBreak() || node.HardLineBreak() {
        b.WriteString("\n")
      }
    case *ast.Paragraph, *ast.Heading, *ast.ListItem:
      if b.Len() > 0 {
        b.WriteString("\n")
      }
    }
    return ast.WalkContinue, nil
  })
  if err != nil {
    return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to parse markdown", err)
  }
  return b.String(), nil
}

// docx is a zip archive whose word/document.xml holds the text runs.
func extractDocxText(documentBytes []byte) (string, error) {
  zr, err := zip.NewReader(bytes.NewReader(documentBytes), int64(len(documentBytes)))
  if err != nil {
    return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to open docx archive", err)
  }
  var docXML []byte
  for _, f := range zr.File {
    if f.Name == "word/document.xml" {
      rc, err := f.Open()
      if err != nil {
        return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to read docx document.xml", err)
      }
      docXML, err = io.ReadAll(rc)
      rc.Close()
      if err != nil {
        return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to read docx document.xml", err)
      }
      break
    }
  }
  if docXML == nil {
    return "", apperr.New(apperr.KindUnsupportedDocument, "docx archive has no word/document.xml")
  }

  decoder := xml.NewDecoder(bytes.NewReader(docXML))
  var b strings.Builder
  var inText bool
  for {
    tok, err := decoder.Token()
    if err == io.EOF {
      break
    }
    if err != nil {
      return "", apperr.Wrap(apperr.KindUnsupportedDocument, "failed to decode docx XML", err)
    }
    switch el := tok.(type) {
    case xml.StartElement:
      switch el.Name.Local {
      case "t":
        inText = true
      case "p":
        if b.Len() > 0 {
          b.WriteString("\n")
        }
      }
    case xml.EndElement:
      if el.Name.Local == "t" {
        inText = false
      }
    case xml.CharData:
      if inText {
        b.Write(el)
      }
    }
  }
  return b.String(), nil
}
