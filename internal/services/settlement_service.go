package services

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/store"
)

const settlementBIC = "TRNYPAYB"

// SettlementService turns completed withdrawals into ISO 20022 pacs.008
// credit-transfer messages for the payout bank's batch file.
type SettlementService struct {
	store *store.LedgerStore
}

func NewSettlementService(ledgerStore *store.LedgerStore) *SettlementService {
	return &SettlementService{store: ledgerStore}
}

// BuildPayoutMessage creates a pacs.008 for one completed withdrawal.
func (s *SettlementService) BuildPayoutMessage(record *models.TransactionRecord) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if record.Kind != models.KindWithdrawal || record.Status != models.StatusCompleted {
		return nil, fmt.Errorf("transaction %s is not a completed withdrawal", record.ID)
	}
	if record.Beneficiary == nil {
		return nil, fmt.Errorf("withdrawal %s has no beneficiary", record.ID)
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	// The wire format wants major units; this is the only place paise
	// leave integer arithmetic, at the export boundary.
	value := float64(record.Amount.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(record.Amount.Currency),
				Value: value,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(record.ID)}[0],
					EndToEndId: common.Max35Text("payout:" + record.ID),
					TxId:       &[]common.Max35Text{common.Max35Text(record.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(record.Amount.Currency),
					Value: value,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(settlementBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(record.UserID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(record.Beneficiary.IFSC),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(record.Beneficiary.AccountNumber)}[0],
				},
			},
		},
	}

	return doc, nil
}

// ConvertToXML renders an ISO 20022 document with the XML header.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// HandleSettlementBatch exports completed withdrawals as pacs.008 XML
// @Summary Export payout settlement batch
// @Description Completed withdrawals finalized since the given time, as ISO 20022 pacs.008 messages
// @Tags settlement
// @Produce json
// @Param since query string true "RFC 3339 lower bound on finalizedAt"
// @Success 200 {object} object{count=int,messages=[]string}
// @Failure 400 {object} ErrorResponse
// @Router /admin/settlement-batch [get]
func (s *SettlementService) HandleSettlementBatch(w http.ResponseWriter, r *http.Request) {
	sinceParam := r.URL.Query().Get("since")
	if sinceParam == "" {
		SendErrorResponse(w, "since is required", http.StatusBadRequest, nil)
		return
	}
	since, err := time.Parse(time.RFC3339, sinceParam)
	if err != nil {
		SendErrorResponse(w, "since must be RFC 3339", http.StatusBadRequest, nil)
		return
	}

	withdrawals, err := s.store.CompletedWithdrawalsSince(r.Context(), since)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}

	messages := make([]string, 0, len(withdrawals))
	for _, record := range withdrawals {
		doc, err := s.BuildPayoutMessage(record)
		if err != nil {
			SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
			return
		}
		xmlData, err := s.ConvertToXML(doc)
		if err != nil {
			SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
			return
		}
		messages = append(messages, xmlData)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(messages),
		"messageType": "pacs.008.001.08",
		"messages":    messages,
	})
}
