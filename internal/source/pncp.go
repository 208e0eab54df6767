package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tjsasakifln/licitasearch/internal/config"
	"github.com/tjsasakifln/licitasearch/internal/model"
)

// PNCPAdapter talks to the Portal Nacional de Contratações Públicas consulta
// API. PNCP is the authoritative federal source and carries priority 1 in
// the default configuration.
type PNCPAdapter struct {
	cfg      config.SourceConfig
	pageSize int
}

// NewPNCPAdapter creates the PNCP adapter.
func NewPNCPAdapter(cfg config.SourceConfig) *PNCPAdapter {
	return &PNCPAdapter{cfg: cfg, pageSize: 50}
}

func (a *PNCPAdapter) Code() string        { return "pncp" }
func (a *PNCPAdapter) DisplayName() string { return a.cfg.DisplayName }

// BuildRequest targets /v1/contratacoes/publicacao. PNCP filters by
// publication window and state; keyword relevance is decided client-side.
func (a *PNCPAdapter) BuildRequest(ctx context.Context, req model.SearchRequest, page int) (*http.Request, error) {
	q := url.Values{}
	q.Set("dataInicial", req.DateFrom.Format("20060102"))
	q.Set("dataFinal", req.DateTo.Format("20060102"))
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(a.pageSize))
	if len(req.States) == 1 {
		// The API accepts a single uf filter; multi-state searches filter
		// client-side instead.
		q.Set("uf", strings.ToUpper(req.States[0]))
	}

	u := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/contratacoes/publicacao?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pncp: create request")
	}
	return httpReq, nil
}

type pncpEnvelope struct {
	Data           []pncpContratacao `json:"data"`
	TotalRegistros int               `json:"totalRegistros"`
	TotalPaginas   int               `json:"totalPaginas"`
	NumeroPagina   int               `json:"numeroPagina"`
	Empty          bool              `json:"empty"`
}

type pncpContratacao struct {
	NumeroControlePNCP  string  `json:"numeroControlePNCP"`
	ObjetoCompra        string  `json:"objetoCompra"`
	ValorTotalEstimado  float64 `json:"valorTotalEstimado"`
	NumeroCompra        string  `json:"numeroCompra"`
	AnoCompra           int     `json:"anoCompra"`
	DataPublicacaoPncp  string  `json:"dataPublicacaoPncp"`
	DataAberturaPropost string  `json:"dataAberturaProposta"`
	OrgaoEntidade       struct {
		CNPJ        string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
	} `json:"orgaoEntidade"`
	UnidadeOrgao struct {
		UFSigla       string `json:"ufSigla"`
		MunicipioNome string `json:"municipioNome"`
	} `json:"unidadeOrgao"`
}

func (a *PNCPAdapter) ParsePage(body []byte, page int) (*Page, error) {
	var env pncpEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "pncp: decode page")
	}

	records := make([]model.UnifiedRecord, 0, len(env.Data))
	for _, c := range env.Data {
		rec := model.UnifiedRecord{
			SourceID:             c.NumeroControlePNCP,
			SourceName:           a.Code(),
			ObjectDescription:    c.ObjetoCompra,
			EstimatedValue:       c.ValorTotalEstimado,
			AgencyCNPJ:           c.OrgaoEntidade.CNPJ,
			AgencyName:           c.OrgaoEntidade.RazaoSocial,
			StateCode:            c.UnidadeOrgao.UFSigla,
			Municipality:         c.UnidadeOrgao.MunicipioNome,
			EditalNumber:         c.NumeroCompra,
			FiscalYear:           c.AnoCompra,
			Link:                 pncpLink(c.NumeroControlePNCP),
			ExtractionConfidence: 1.0,
		}
		rec.PublicationDate = parseBrazilTime(c.DataPublicacaoPncp)
		if t := parseBrazilTime(c.DataAberturaPropost); !t.IsZero() {
			rec.OpeningDate = &t
		}
		records = append(records, rec)
	}

	return &Page{
		Records:      records,
		Number:       page,
		TotalPages:   env.TotalPaginas,
		TotalRecords: env.TotalRegistros,
		HasMore:      env.TotalPaginas > page && !env.Empty,
	}, nil
}

// pncpLink builds the public edital URL from the control number, which has
// the form {cnpj}-{modalidade}-{sequencial}/{ano}.
func pncpLink(controle string) string {
	if controle == "" {
		return ""
	}
	parts := strings.Split(controle, "-")
	if len(parts) != 3 {
		return "https://pncp.gov.br/app/editais?q=" + url.QueryEscape(controle)
	}
	seqAno := strings.SplitN(parts[2], "/", 2)
	if len(seqAno) != 2 {
		return "https://pncp.gov.br/app/editais?q=" + url.QueryEscape(controle)
	}
	seq := strings.TrimLeft(seqAno[0], "0")
	if seq == "" {
		seq = "0"
	}
	return fmt.Sprintf("https://pncp.gov.br/app/editais/%s/%s/%s", parts[0], seqAno[1], seq)
}

// brazilTimeLayouts covers the timestamp shapes seen across the portals.
var brazilTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"02/01/2006",
}

// parseBrazilTime tries the known portal layouts, returning the zero time
// when none match.
func parseBrazilTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range brazilTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
