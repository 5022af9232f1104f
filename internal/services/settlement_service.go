package services

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/cajafuerte/backend/internal/models"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
)

// SettlementService renders paid batches as ISO 20022 messages for the
// treasury system that reconciles the physical cash deposits.
type SettlementService struct{}

func NewSettlementService() *SettlementService {
	viper.SetDefault("ledger.currency", "MXN")
	viper.SetDefault("ledger.settlement_bic", "CAJAFMXX")
	return &SettlementService{}
}

// ExportBatch emits a pacs.008 carrying the batch's net cash position
// followed by a pacs.002 acceptance report.
func (ss *SettlementService) ExportBatch(batch *models.Batch) error {
	pacs008, err := ss.CreatePacs008(batch)
	if err != nil {
		return err
	}
	if err := ss.SendToSettlement(pacs008); err != nil {
		return err
	}

	pacs002, err := ss.CreatePacs002(batch, "ACCP")
	if err != nil {
		return err
	}
	return ss.SendToSettlement(pacs002)
}

// CreatePacs008 builds a FIToFICustomerCreditTransfer for the batch's
// net position (income minus expense across every stored bucket).
func (ss *SettlementService) CreatePacs008(batch *models.Batch) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	net := batch.IncomeSums.Total().Sub(batch.ExpenseSums.Total())
	amount, _ := net.Round(2).Float64()

	currency := viper.GetString("ledger.currency")
	bic := viper.GetString("ledger.settlement_bic")
	paymentRef := batch.PaymentRef.String
	if paymentRef == "" {
		paymentRef = batch.BatchRef
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(batch.BatchRef)}[0],
					EndToEndId: common.Max35Text(paymentRef),
					TxId:       &[]common.Max35Text{common.Max35Text(batch.BatchRef)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(bic)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("CASH REGISTER " + batch.Date.Format("2006-01-02"))}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text("TREASURY"),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("TREASURY DEPOSIT")}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds a payment status report for a batch.
func (ss *SettlementService) CreatePacs002(batch *models.Batch, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(batch.BatchRef)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(batch.PaymentRef.String)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(batch.BatchRef)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

func (ss *SettlementService) SendToSettlement(doc interface{}) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: deliver to the treasury SFTP drop once credentials land.
	fmt.Printf("Sending to settlement: %s\n", string(xmlData))
	return nil
}

// ConvertToXML converts an ISO 20022 document to an XML string.
func (ss *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
