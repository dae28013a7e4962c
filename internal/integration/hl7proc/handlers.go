package hl7proc

import (
	"context"
	"fmt"

	"github.com/interop/interop/internal/domain/hl7msg"
	"github.com/interop/interop/internal/platform/hl7v2"
)

// registerDefaultHandlers installs the four standard message families. Each
// handler validates the segments its family requires; a structural gap is a
// handler failure and acknowledges AE, not AR.
func (p *Processor) registerDefaultHandlers() {
	p.RegisterHandler("ADT", p.handleADT)
	p.RegisterHandler("ORM", p.handleORM)
	p.RegisterHandler("ORU", p.handleORU)
	p.RegisterHandler("SIU", p.handleSIU)
}

// handleADT covers admit, discharge, and transfer events.
func (p *Processor) handleADT(_ context.Context, parsed *hl7v2.Message, stored *hl7msg.Message) error {
	pid := parsed.Segment("PID")
	if pid == nil {
		return fmt.Errorf("ADT message missing PID segment")
	}
	patientID := parsed.PatientID()
	if patientID == "" {
		return fmt.Errorf("ADT message has no patient identifier in PID-3")
	}

	family, given := parsed.PatientName()
	stored.AppendLog(fmt.Sprintf("ADT^%s for patient %s (%s, %s)",
		parsed.TriggerEvent, patientID, family, given))

	if pv1 := parsed.Segment("PV1"); pv1 != nil {
		if class := pv1.Field(2); class != "" {
			stored.AppendLog("patient class " + class)
		}
	}
	return nil
}

// handleORM covers order messages.
func (p *Processor) handleORM(_ context.Context, parsed *hl7v2.Message, stored *hl7msg.Message) error {
	orc := parsed.Segment("ORC")
	if orc == nil {
		return fmt.Errorf("ORM message missing ORC segment")
	}

	control := orc.Field(1)
	stored.AppendLog("order control " + control)
	if obr := parsed.Segment("OBR"); obr != nil {
		if service := obr.Component(4, 2); service != "" {
			stored.AppendLog("ordered service " + service)
		}
	}
	return nil
}

// handleORU covers observation results.
func (p *Processor) handleORU(_ context.Context, parsed *hl7v2.Message, stored *hl7msg.Message) error {
	observations := parsed.AllSegments("OBX")
	if len(observations) == 0 {
		return fmt.Errorf("ORU message has no OBX segments")
	}

	for _, obx := range observations {
		name := obx.Component(3, 2)
		value := obx.Field(5)
		if name != "" {
			stored.AppendLog(fmt.Sprintf("observation %s = %s", name, value))
		}
	}
	return nil
}

// handleSIU covers scheduling events.
func (p *Processor) handleSIU(_ context.Context, parsed *hl7v2.Message, stored *hl7msg.Message) error {
	sch := parsed.Segment("SCH")
	if sch == nil {
		return fmt.Errorf("SIU message missing SCH segment")
	}

	if appointmentID := sch.Component(1, 1); appointmentID != "" {
		stored.AppendLog("appointment " + appointmentID)
	}
	return nil
}
