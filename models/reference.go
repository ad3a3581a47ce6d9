package models

import (
	"fmt"
)

type BeneficiaryKind string

const (
	BeneficiaryNone         BeneficiaryKind = "none"
	BeneficiaryOwner        BeneficiaryKind = "owner"
	BeneficiaryPropertyLine BeneficiaryKind = "property_line"
)

// Beneficiary discriminates installments of one contract that are split per owner or per property line.
type Beneficiary struct {
	Kind BeneficiaryKind `json:"kind"`
	Id   int             `json:"id"`
}

func NoBeneficiary() Beneficiary { return Beneficiary{Kind: BeneficiaryNone} }

func OwnerBeneficiary(ownerId int) Beneficiary {
	return Beneficiary{Kind: BeneficiaryOwner, Id: ownerId}
}

func PropertyLineBeneficiary(lineId int) Beneficiary {
	return Beneficiary{Kind: BeneficiaryPropertyLine, Id: lineId}
}

func (b Beneficiary) suffix() (string, error) {
	switch b.Kind {
	case BeneficiaryNone, "":
		return "SINGLE", nil
	case BeneficiaryOwner:
		if b.Id <= 0 {
			return "", fmt.Errorf("owner id must be positive, got %d", b.Id)
		}
		return fmt.Sprintf("OWNER-%06d", b.Id), nil
	case BeneficiaryPropertyLine:
		if b.Id <= 0 {
			return "", fmt.Errorf("property line id must be positive, got %d", b.Id)
		}
		return fmt.Sprintf("PROP-%06d", b.Id), nil
	}
	return "", fmt.Errorf("unknown beneficiary kind %q", b.Kind)
}

// GenerateReference builds CONT-{contract:06d}-CUOTA-{installment:03d}-{SUFFIX}.
// Identifiers wider than their pad are printed in full.
func GenerateReference(contractId int, installmentNumber int, beneficiary Beneficiary) (string, error) {
	if contractId <= 0 {
		return "", NewLedgerError(ErrInvalidReferenceInput, contractId, fmt.Errorf("contract id must be positive, got %d", contractId))
	}
	if installmentNumber <= 0 {
		return "", NewLedgerError(ErrInvalidReferenceInput, contractId, fmt.Errorf("installment number must be positive, got %d", installmentNumber))
	}
	suffix, err := beneficiary.suffix()
	if err != nil {
		return "", NewLedgerError(ErrInvalidReferenceInput, contractId, err)
	}
	return fmt.Sprintf("CONT-%06d-CUOTA-%03d-%s", contractId, installmentNumber, suffix), nil
}
