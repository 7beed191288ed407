package server

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/r0vm/pkg/s0"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "r0vm-lsp"

var log = commonlog.GetLogger("r0vm.lsp")

// LspServer provides editor features for r0 assembly listings.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → parsed document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new language server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// insRef locates an instruction by function and index.
type insRef struct {
	fn, ip int
}

// document is one open listing. prog is nil when the text does not
// assemble.
type document struct {
	text   string
	lines  []string
	prog   *s0.Program
	lmap   *s0.LineMap
	err    error
	byLine map[int]insRef // 1-based line → instruction
}

func parseDocument(text string) *document {
	d := &document{text: text, lines: strings.Split(text, "\n")}
	d.prog, d.lmap, d.err = s0.AssembleLines(strings.NewReader(text))
	if d.err != nil {
		return d
	}
	d.byLine = make(map[int]insRef)
	for fn, lines := range d.lmap.Ins {
		for ip, line := range lines {
			d.byLine[line] = insRef{fn, ip}
		}
	}
	return d
}

// instructionAt returns the instruction on a 0-based line.
func (d *document) instructionAt(line int) (insRef, s0.Op, bool) {
	if d.prog == nil {
		return insRef{}, s0.Op{}, false
	}
	ref, ok := d.byLine[line+1]
	if !ok {
		return insRef{}, s0.Op{}, false
	}
	return ref, d.prog.Functions[ref.fn].Ins[ref.ip], true
}

// functionAt returns the function whose header is on a 0-based line.
func (d *document) functionAt(line int) (int, bool) {
	if d.prog == nil {
		return 0, false
	}
	for fn, l := range d.lmap.Functions {
		if l == line+1 {
			return fn, true
		}
	}
	return 0, false
}

// lineRange covers a whole 0-based line.
func (d *document) lineRange(line int) protocol.Range {
	end := 0
	if line >= 0 && line < len(d.lines) {
		end = utf8.RuneCountInString(d.lines[line])
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[string(uri)]
	return d, ok
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("r0vm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	d := parseDocument(text)

	s.mu.Lock()
	s.docs[string(uri)] = d
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: d.diagnostics(),
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	d, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(d.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	d, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return d.hover(params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	d, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	locs := d.definition(params.TextDocument.URI, params.Position)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	d, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return d.references(params.TextDocument.URI, params.Position), nil
}

// --- Document logic ---

var directives = []string{"const", "let", "fn"}

func complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, kw := range directives {
		if strings.HasPrefix(kw, lowerPrefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "directive"
			kwCopy := kw
			items = append(items, protocol.CompletionItem{
				Label:      kw,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &kwCopy,
			})
		}
	}

	ops := s0.AllOpcodes()
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		name := op.String()
		if !strings.HasPrefix(name, lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindFunction
		detail := stackEffect(op)
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	return items
}

// stackEffect summarises an opcode for completion details and hovers.
func stackEffect(op s0.Opcode) string {
	info := s0.GetOpcodeInfo(op)
	pops := strconv.Itoa(info.StackPop)
	if info.StackPop < 0 {
		pops = "n"
	}
	pushes := strconv.Itoa(info.StackPush)
	if info.StackPush < 0 {
		pushes = "n"
	}
	effect := fmt.Sprintf("pops %s, pushes %s", pops, pushes)
	switch info.Operand {
	case s0.OperandU32:
		effect += "; u32 operand"
	case s0.OperandI32:
		effect += "; relative branch offset"
	case s0.OperandU64:
		effect += "; u64 operand"
	}
	return effect
}

func markdown(format string, args ...any) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: fmt.Sprintf(format, args...),
		},
	}
}

func (d *document) hover(pos protocol.Position) *protocol.Hover {
	word := extractWord(d.text, pos)
	if word == "" {
		return nil
	}
	line := int(pos.Line)

	if op, ok := s0.LookupMnemonic(word); ok {
		return markdown("**%s** (0x%02X)\n\n%s", word, byte(op), stackEffect(op))
	}

	if ref, op, ok := d.instructionAt(line); ok && strings.Contains(operandText(d.lines[line]), word) {
		switch op.Code {
		case s0.OpCall:
			if op.Arg < uint64(len(d.prog.Functions)) {
				return markdown("%s", d.signature(int(op.Arg)))
			}
		case s0.OpCallName, s0.OpGlobA:
			if op.Arg < uint64(len(d.prog.Globals)) {
				return markdown("global %d: `%s`", op.Arg, describeGlobal(d.prog.Globals[op.Arg]))
			}
		case s0.OpBr, s0.OpBrFalse, s0.OpBrTrue:
			return markdown("jumps to instruction %d", ref.ip+1+int(op.Offset()))
		}
		return nil
	}

	if fn, ok := d.functionAt(line); ok {
		return markdown("%s", d.signature(fn))
	}
	return nil
}

func (d *document) signature(fn int) string {
	def := d.prog.Functions[fn]
	name := d.prog.FunctionName(fn)
	return fmt.Sprintf("**fn %d** `%s`\n\nlocals %d, params %d, returns %d",
		fn, name, def.LocSlots, def.ParamSlots, def.RetSlots)
}

func describeGlobal(g s0.GlobalValue) string {
	kind := "let"
	if g.IsConst {
		kind = "const"
	}
	if utf8.Valid(g.Bytes) {
		return kind + " " + strconv.Quote(string(g.Bytes))
	}
	return fmt.Sprintf("%s %d bytes", kind, len(g.Bytes))
}

func (d *document) location(uri protocol.DocumentUri, line int) protocol.Location {
	return protocol.Location{URI: uri, Range: d.lineRange(line - 1)}
}

// definition jumps from an operand to the function or global it names.
func (d *document) definition(uri protocol.DocumentUri, pos protocol.Position) []protocol.Location {
	_, op, ok := d.instructionAt(int(pos.Line))
	if !ok {
		return nil
	}
	switch op.Code {
	case s0.OpCall:
		if op.Arg < uint64(len(d.lmap.Functions)) {
			return []protocol.Location{d.location(uri, d.lmap.Functions[op.Arg])}
		}
	case s0.OpCallName:
		if op.Arg >= uint64(len(d.prog.Globals)) {
			return nil
		}
		if fn, ok := d.functionNamed(string(d.prog.Globals[op.Arg].Bytes)); ok {
			return []protocol.Location{d.location(uri, d.lmap.Functions[fn])}
		}
		return []protocol.Location{d.location(uri, d.lmap.Globals[op.Arg])}
	case s0.OpGlobA:
		if op.Arg < uint64(len(d.lmap.Globals)) {
			return []protocol.Location{d.location(uri, d.lmap.Globals[op.Arg])}
		}
	}
	return nil
}

func (d *document) functionNamed(name string) (int, bool) {
	found, ok := 0, false
	for i := range d.prog.Functions {
		if d.prog.FunctionName(i) == name {
			found, ok = i, true
		}
	}
	return found, ok
}

// references lists every call site of the function whose header is under
// the cursor.
func (d *document) references(uri protocol.DocumentUri, pos protocol.Position) []protocol.Location {
	fn, ok := d.functionAt(int(pos.Line))
	if !ok {
		return nil
	}
	name := d.prog.FunctionName(fn)

	var locations []protocol.Location
	for caller, def := range d.prog.Functions {
		for ip, op := range def.Ins {
			hit := false
			switch op.Code {
			case s0.OpCall:
				hit = op.Arg == uint64(fn)
			case s0.OpCallName:
				hit = op.Arg < uint64(len(d.prog.Globals)) && string(d.prog.Globals[op.Arg].Bytes) == name
			}
			if hit {
				locations = append(locations, d.location(uri, d.lmap.Ins[caller][ip]))
			}
		}
	}
	return locations
}

// --- Diagnostics ---

func (d *document) diagnostics() []protocol.Diagnostic {
	source := lspName
	diagnostics := []protocol.Diagnostic{}

	if d.err != nil {
		line := 0
		msg := d.err.Error()
		var asmErr *s0.AsmError
		if errors.As(d.err, &asmErr) {
			line = asmErr.Line - 1
			msg = asmErr.Err.Error()
		}
		severity := protocol.DiagnosticSeverityError
		return append(diagnostics, protocol.Diagnostic{
			Range:    d.lineRange(line),
			Severity: &severity,
			Source:   &source,
			Message:  msg,
		})
	}

	for _, f := range Lint(d.prog, d.lmap) {
		severity := protocol.DiagnosticSeverityError
		if f.Severity == SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    d.lineRange(f.Line - 1),
			Severity: &severity,
			Source:   &source,
			Message:  f.Message,
		})
	}
	return diagnostics
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// operandText returns the operand field of an instruction line.
func operandText(line string) string {
	fields := strings.Fields(stripLineComment(line))
	if len(fields) != 2 {
		return ""
	}
	return fields[1]
}

func stripLineComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the mnemonic
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}

